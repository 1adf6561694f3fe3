// Package cli holds the pieces shared by streamx command-line tools:
// configuration loading, output formatting and terminal rendering of
// health snapshots.
//
// Configuration is one YAML file, by default ~/.streamx/config.yaml:
//
//	cfg, err := cli.LoadConfig(path)
//	mgr, err := streamx.NewManager(cfg.Stream)
//
// Values of the form ${NAME} are expanded from the environment so API keys
// can stay out of the file.
package cli
