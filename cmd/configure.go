package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/filebox/config"
)

var configureArgs struct {
	RootDirectory    string
	Port             string
	CompressionLevel string
	Override         bool
	NonInteractive   bool
}

func newConfigureCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "configure",
		Short: "Write a configuration file for this instance",
		Run:   configureCmdRun,
	}

	command.Flags().StringVarP(&configureArgs.RootDirectory, "root-directory", "r", "", "the directory all file operations are confined to")
	command.Flags().StringVarP(&configureArgs.Port, "port", "p", "", "the port the HTTP API listens on")
	command.Flags().StringVar(&configureArgs.CompressionLevel, "compression-level", "", "the compression level used for archives (none, best_speed, best_compression)")
	command.Flags().BoolVar(&configureArgs.Override, "override", false, "override an existing configuration")
	command.Flags().BoolVarP(&configureArgs.NonInteractive, "yes", "y", false, "use defaults for any value not passed as a flag")

	return command
}

func configureCmdRun(*cobra.Command, []string) {
	p := configPath
	if !filepath.IsAbs(p) {
		d, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		p = filepath.Join(d, p)
	}

	if _, err := os.Stat(p); err == nil && !configureArgs.Override {
		if configureArgs.NonInteractive {
			fmt.Println("A configuration file already exists at " + p + ", pass --override to replace it.")
			os.Exit(1)
		}
		err := survey.AskOne(&survey.Confirm{Message: "Override existing configuration file"}, &configureArgs.Override)
		if err == terminal.InterruptErr {
			return
		}
		if !configureArgs.Override {
			fmt.Println("Aborted.")
			os.Exit(1)
		}
	}

	c, err := config.NewAtPath(p)
	if err != nil {
		panic(err)
	}

	if !configureArgs.NonInteractive {
		if err := askConfiguration(c); err != nil {
			if err == terminal.InterruptErr {
				return
			}
			panic(err)
		}
	}
	if err := applyConfigureArgs(c); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	if err := c.WriteToDisk(); err != nil {
		panic(err)
	}
	fmt.Println("Successfully configured filebox at " + p + ".")
}

// Prompts for every value that was not passed as a flag, using the current
// defaults as the suggested answers.
func askConfiguration(c *config.Configuration) error {
	var questions []*survey.Question
	if configureArgs.RootDirectory == "" {
		questions = append(questions, &survey.Question{
			Name:     "RootDirectory",
			Prompt:   &survey.Input{Message: "Root directory:", Default: c.System.RootDirectory},
			Validate: survey.Required,
		})
	}
	if configureArgs.Port == "" {
		questions = append(questions, &survey.Question{
			Name:   "Port",
			Prompt: &survey.Input{Message: "API port:", Default: strconv.Itoa(c.Api.Port)},
			Validate: func(ans interface{}) error {
				if str, ok := ans.(string); ok {
					if _, err := parsePort(str); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	if configureArgs.CompressionLevel == "" {
		questions = append(questions, &survey.Question{
			Name: "CompressionLevel",
			Prompt: &survey.Select{
				Message: "Archive compression level:",
				Options: []string{"none", "best_speed", "best_compression"},
				Default: c.Archives.CompressionLevel,
			},
		})
	}
	if len(questions) == 0 {
		return nil
	}
	return survey.Ask(questions, &configureArgs)
}

func applyConfigureArgs(c *config.Configuration) error {
	if configureArgs.RootDirectory != "" {
		c.System.RootDirectory = configureArgs.RootDirectory
	}
	if configureArgs.Port != "" {
		port, err := parsePort(configureArgs.Port)
		if err != nil {
			return err
		}
		c.Api.Port = port
	}
	switch configureArgs.CompressionLevel {
	case "":
	case "none", "best_speed", "best_compression":
		c.Archives.CompressionLevel = configureArgs.CompressionLevel
	default:
		return errors.Errorf("invalid compression level %q", configureArgs.CompressionLevel)
	}
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, errors.Errorf("%q is not a valid port", s)
	}
	return port, nil
}
