package config

import (
	"gopkg.in/ini.v1"

	"github.com/luadistops/luadistctl/luadistctl/luadist"
)

// Config carries the site-level defaults an operator may keep in an INI file.
// CLI flags override these; these override the built-in defaults.
type Config struct {
	DistsRepo    string
	AllowDists   string
	BootstrapURL string
	SSHUser      string
}

// Default returns the built-in defaults used when no file is supplied.
func Default() Config {
	return Config{
		DistsRepo:    luadist.DefaultRepo,
		AllowDists:   string(luadist.DistAll),
		BootstrapURL: luadist.DefaultBootstrapURL,
	}
}

// Load reads defaults from an INI file:
//
//	[defaults]
//	dists_repo = git://github.com/LuaDist/Repository.git
//	allow_dists = all
//	bootstrap_url = https://tinyurl.com/luadist
//
//	[ssh]
//	user = deploy
func Load(filePath string) (Config, error) {
	cfg, err := ini.Load(filePath)
	if err != nil {
		return Config{}, err
	}

	c := Default()

	defaults := cfg.Section("defaults")
	c.DistsRepo = defaults.Key("dists_repo").MustString(c.DistsRepo)
	c.AllowDists = defaults.Key("allow_dists").MustString(c.AllowDists)
	c.BootstrapURL = defaults.Key("bootstrap_url").MustString(c.BootstrapURL)

	sshSection := cfg.Section("ssh")
	c.SSHUser = sshSection.Key("user").MustString(c.SSHUser)

	if _, err := luadist.ParseDistPolicy(c.AllowDists); err != nil {
		return Config{}, err
	}

	return c, nil
}
