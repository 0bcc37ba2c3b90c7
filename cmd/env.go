package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// ConfigCheckResult holds the result of environment validation
type ConfigCheckResult struct {
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// EnvCommand returns the env command for checking required environment.
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Check required environment variables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Load variables from `FILE` before checking",
			},
		},
		Action: func(c *cli.Context) error {
			if path := c.String("file"); path != "" {
				if err := LoadEnvFile(path); err != nil {
					return fmt.Errorf("failed to load %s: %w", path, err)
				}
			}

			result := CheckRequiredConfig()
			PrintConfigCheck(result)

			if len(result.Missing) > 0 {
				return fmt.Errorf("%d required variable(s) missing", len(result.Missing))
			}
			return nil
		},
	}
}

// CheckRequiredConfig validates that required environment variables are set
func CheckRequiredConfig() *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	requiredVars := []string{
		"DATABASE_URL",
		"STANDUPBOT_MEMORY_API_KEY",
		"STANDUPBOT_VOICE_API_KEY",
		"STANDUPBOT_EXTRACTION_API_KEY",
	}

	for _, v := range requiredVars {
		val := os.Getenv(v)
		if val == "" {
			result.Missing = append(result.Missing, v)
		} else {
			result.Present[v] = maskSecret(val)
		}
	}

	optionalVars := []string{
		"STANDUPBOT_SLACK_BOT_TOKEN",
		"STANDUPBOT_VOICE_AGENT_ID",
	}

	for _, v := range optionalVars {
		val := os.Getenv(v)
		if val != "" {
			result.Present[v] = maskSecret(val)
		}
	}

	if os.Getenv("STANDUPBOT_SLACK_BOT_TOKEN") == "" {
		result.Warnings = append(result.Warnings, "STANDUPBOT_SLACK_BOT_TOKEN is not set, completed standups will not be announced")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Environment Check ===")
	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required variables:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		fmt.Println("✓ Configured variables:")
		for k, v := range result.Present {
			fmt.Printf("   - %s = %s\n", k, v)
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("=========================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	return godotenv.Overload(filename)
}
