package translation

import "codeberg.org/snonux/transbench/internal/exam"

var systemPrompts = map[exam.Task]string{
	exam.ZhEn: "You are a professional translator. Translate the user's Chinese text into natural, accurate English. " +
		"Return translation only, without notes.",
	exam.EnZh: "You are a professional translator. Translate the user's English text into natural, accurate Simplified Chinese. " +
		"Return translation only, without notes.",
}

// SystemPrompt returns the instruction sent with every item of a task
func SystemPrompt(task exam.Task) (string, bool) {
	prompt, ok := systemPrompts[task]
	return prompt, ok
}
