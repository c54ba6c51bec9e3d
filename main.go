// Command luadist is the reduced variant of the reconciler CLI: same
// convergence loop, but it only reports the changed flag. Use
// cmd/luadistctl for the extended result contract.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/luadistops/luadistctl/luadistctl/luadist"
	"github.com/luadistops/luadistctl/luadistctl/reconciler"
	"github.com/luadistops/luadistctl/luadistctl/runner"
)

var (
	path        string
	packageList string
	allowDists  string
	distsRepo   string
	check       bool
	debug       bool
	logFileName string
	logger      = logrus.New()
)

func init() {
	flag.StringVar(&path, "path", "", "Path to install the Lua environment to")
	flag.StringVar(&packageList, "packages", "", "Comma-separated list of Lua packages to ensure present")
	flag.StringVar(&allowDists, "allow-dists", "all", "Dist types allowed: all, binary or source")
	flag.StringVar(&distsRepo, "repo", luadist.DefaultRepo, "Repository to install dists from")
	flag.BoolVar(&check, "check", false, "Check mode: report without making any change")
	flag.BoolVar(&debug, "debug", false, "Enable debug log level")
	flag.StringVar(&logFileName, "log", "log.txt", "Log file name")
}

func splitPackages(s string) []string {
	var packages []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			packages = append(packages, p)
		}
	}
	return packages
}

func main() {
	flag.Parse()

	file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.Fatal(err)
	}
	defer file.Close()

	logger.SetOutput(file)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	req := reconciler.Request{
		Path:       path,
		Packages:   splitPackages(packageList),
		AllowDists: luadist.DistPolicy(allowDists),
		DistsRepo:  distsRepo,
		CheckMode:  check,
	}

	client := &luadist.Client{Runner: &runner.LocalRunner{}}
	result, err := reconciler.New(client).Reconcile(context.Background(), req)
	if err != nil {
		logger.Errorf("Reconciliation failed: %v", err)
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"failed": true,
			"msg":    err.Error(),
		})
		os.Exit(1)
	}

	logger.Infof("Reconciliation finished, changed=%t", result.Changed)
	json.NewEncoder(os.Stdout).Encode(map[string]bool{"changed": result.Changed})
}
