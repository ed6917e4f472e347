package app

// Key binding constants used in handleKey.
const (
	KeyQuit         = "q"
	KeyQuitUpper    = "Q"
	KeyCtrlC        = "ctrl+c"
	KeySpace        = " "
	KeyTab          = "tab"
	KeyUp           = "up"
	KeyDown         = "down"
	KeyJ            = "j"
	KeyK            = "k"
	KeyEnter        = "enter"
	KeyEsc          = "esc"
	KeyBackspace    = "backspace"
	KeyNewSession   = "n"
	KeyDelSession   = "x"
	KeyRename       = "r"
	KeyMark         = "s"
	KeyDelEntries   = "d"
	KeyCopyEntries  = "c"
	KeyExportAudio  = "w"
	KeyClearMarks   = "u"
	KeyJumpToLatest = "G"
)
