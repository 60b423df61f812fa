package internal

// Version is the current transbench release
const Version = "0.3.0"
