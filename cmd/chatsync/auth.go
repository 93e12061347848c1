package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/bhandras/chatsync/internal/client"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/urfave/cli/v2"
)

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Sign in with email and password",
	Before: prepareApp,
	Action: cmdLogin,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "email", Usage: "Account email"},
		&cli.StringFlag{Name: "password", Usage: "Account password", EnvVars: []string{"CHATSYNC_PASSWORD"}},
	},
}

var registerCommand = &cli.Command{
	Name:   "register",
	Usage:  "Create an account and sign in",
	Before: prepareApp,
	Action: cmdRegister,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "email", Usage: "Account email"},
		&cli.StringFlag{Name: "password", Usage: "Account password", EnvVars: []string{"CHATSYNC_PASSWORD"}},
		&cli.StringFlag{Name: "name", Usage: "Display name"},
		&cli.StringFlag{Name: "avatar", Usage: "Avatar image path or URL"},
	},
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Forget the stored credential",
	Before: prepareApp,
	Action: cmdLogout,
}

var whoamiCommand = &cli.Command{
	Name:   "whoami",
	Usage:  "Show the signed-in user",
	Before: prepareApp,
	Action: cmdWhoami,
}

var profileCommand = &cli.Command{
	Name:      "profile",
	Usage:     "Change the display name and avatar",
	ArgsUsage: "NAME",
	Before:    requiresSession,
	Action:    cmdProfile,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "avatar", Usage: "Avatar image path or URL"},
	},
}

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

func flagOrPrompt(ctx *cli.Context, name, prompt string) (string, error) {
	if v := ctx.String(name); v != "" {
		return v, nil
	}
	return readLine(prompt)
}

func cmdLogin(ctx *cli.Context) error {
	email, err := flagOrPrompt(ctx, "email", "Email: ")
	if err != nil {
		return err
	}
	password, err := flagOrPrompt(ctx, "password", "Password: ")
	if err != nil {
		return err
	}

	c := getClient(ctx)
	if err := c.SignIn(ctx.Context, email, password); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	u, _ := c.CurrentUser()
	fmt.Printf("Signed in as %s (%s)\n", u.Name, u.Email)
	return nil
}

func cmdRegister(ctx *cli.Context) error {
	email, err := flagOrPrompt(ctx, "email", "Email: ")
	if err != nil {
		return err
	}
	password, err := flagOrPrompt(ctx, "password", "Password: ")
	if err != nil {
		return err
	}
	name, err := flagOrPrompt(ctx, "name", "Name: ")
	if err != nil {
		return err
	}

	c := getClient(ctx)
	if err := c.SignUp(ctx.Context, email, password, name, ctx.String("avatar")); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	u, _ := c.CurrentUser()
	fmt.Printf("Registered and signed in as %s\n", u.Name)
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	if err := getClient(ctx).SignOut(); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	fmt.Println("Signed out")
	return nil
}

func cmdWhoami(ctx *cli.Context) error {
	c := getClient(ctx)
	route, err := c.Bootstrap(ctx.Context)
	if err != nil {
		logger.Warnf("could not reach the server: %v", err)
	}
	u, ok := c.CurrentUser()
	if route != client.RouteAuthenticated || !ok {
		fmt.Println("Not signed in")
		return nil
	}
	fmt.Printf("%s <%s>\n", u.Name, u.Email)
	fmt.Printf("  id: %s\n", u.ID)
	if u.Avatar != "" {
		fmt.Printf("  avatar: %s\n", u.Avatar)
	}
	fmt.Printf("  server: %s (%s)\n", getConfig(ctx).ServerURL, c.Connectivity())
	return nil
}

func cmdProfile(ctx *cli.Context) error {
	name := strings.Join(ctx.Args().Slice(), " ")
	c := getClient(ctx)
	if err := c.UpdateProfile(ctx.Context, name, ctx.String("avatar")); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	u, _ := c.CurrentUser()
	fmt.Printf("Profile updated: %s\n", u.Name)
	return nil
}
