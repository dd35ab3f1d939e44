package logger

// OptionsStd configures the stdout sink.
type OptionsStd struct {
	// DisableStandard turns the stdout sink off entirely.
	DisableStandard bool `mapstructure:"disableStandard" json:"disableStandard" yaml:"disableStandard"`
	// DisableColor disables ANSI color codes in the formatted output.
	DisableColor bool `mapstructure:"disableColor" json:"disableColor" yaml:"disableColor"`
	// EnableTrace adds caller file:line information to every entry.
	EnableTrace bool `mapstructure:"enableTrace" json:"enableTrace" yaml:"enableTrace"`
}

// OptionsFile configures a single rotating-by-restart log file sink.
type OptionsFile struct {
	Filepath string `mapstructure:"filepath" json:"filepath" yaml:"filepath"`
	Create   bool   `mapstructure:"create" json:"create" yaml:"create"`
}

// Options groups every sink configuration accepted by Logger.SetOptions.
type Options struct {
	Level   string        `mapstructure:"level" json:"level" yaml:"level"`
	Stdout  *OptionsStd   `mapstructure:"stdout" json:"stdout" yaml:"stdout"`
	LogFile []OptionsFile `mapstructure:"logFile" json:"logFile" yaml:"logFile"`
}

// Merge overlays non-zero fields of n onto the receiver.
func (o *Options) Merge(n *Options) {
	if o == nil || n == nil {
		return
	}
	if n.Level != "" {
		o.Level = n.Level
	}
	if n.Stdout != nil {
		o.Stdout = n.Stdout
	}
	if len(n.LogFile) > 0 {
		o.LogFile = n.LogFile
	}
}
