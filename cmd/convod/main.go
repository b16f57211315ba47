package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/telavy/convo/internal/client"
	"github.com/telavy/convo/internal/config"
	"github.com/telavy/convo/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	baseURLFlag := flag.String("base-url", "", "conversation service base URL (overrides config)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	params := client.Params{Profile: profile}
	if cfg, err := config.Load(session.ConfigPath()); err == nil {
		params.BaseURL = cfg.BaseURL
		params.Token = cfg.Token
		params.UserID = cfg.UserID
	}
	if *baseURLFlag != "" {
		params.BaseURL = *baseURLFlag
	}
	if params.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "error: no base URL configured; set base_url in config.toml or pass --base-url")
		os.Exit(1)
	}

	app := fx.New(
		client.Module(params),
	)

	app.Run()
}
