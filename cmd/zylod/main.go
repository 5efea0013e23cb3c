package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/ntbao/zylo/internal/app"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	userFlag := flag.String("user", "", "authenticated user id")
	flag.Parse()

	sessionName := app.ResolveSession(*sessionFlag)
	if err := app.ValidateSessionName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	userID := *userFlag
	if userID == "" {
		userID = os.Getenv("ZYLO_USER_ID")
	}
	token := os.Getenv("ZYLO_TOKEN")
	if userID == "" || token == "" {
		fmt.Fprintln(os.Stderr, "error: --user (or ZYLO_USER_ID) and ZYLO_TOKEN are required")
		os.Exit(1)
	}

	zylo := fx.New(
		app.Module(app.Params{
			SessionName: sessionName,
			UserID:      userID,
			Token:       token,
		}),
	)

	zylo.Run()
}
