// Package exam parses translation exam files into ordered, per-task
// sequences of items. An exam file wraps one or more task blocks
// (<zh_en>, <en_zh>) in an <exam> container; every non-blank,
// non-comment line inside a task block is one item to translate.
package exam
