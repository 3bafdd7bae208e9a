package config

// Data is the per-slot payload handed to a task template's Launch
// callback, produced by DeriveData ("parseProcessData" in spec §6.3).
type Data struct {
	Name    string
	Cwd     string
	Command string
	Args    []string
	Payload map[string]any
}

// DeriveData derives the per-slot data vector from a parsed Config.
// Slot i corresponds to cfg.Tasks[i]; a disabled task produces a nil
// entry, which the manager pool (spec §4.2) treats as an absent slot
// to tear down.
func DeriveData(cfg *Config) []any {
	data := make([]any, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.Enabled != nil && !*t.Enabled {
			continue
		}
		data[i] = Data{Name: t.Name, Cwd: t.Cwd, Command: t.Command, Args: t.Args, Payload: t.Data}
	}
	return data
}
