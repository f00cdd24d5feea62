package cli

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVar names an env file that takes precedence over the --env flag.
const EnvFileVar = "MARKETPULSE_ENV_FILE"

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
	explicit    func() bool
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
		explicit: func() bool {
			set := false
			fs.Visit(func(f *flag.Flag) {
				if f.Name == "env" {
					set = true
				}
			})
			return set
		},
	}
}

// Load applies the first env file found, in order: $MARKETPULSE_ENV_FILE, the
// --env value, the default path. Values in the file override the process
// environment. A missing default file is not an error; a missing file that
// was asked for explicitly is.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	if custom := strings.TrimSpace(os.Getenv(EnvFileVar)); custom != "" {
		if err := godotenv.Overload(custom); err != nil {
			return "", fmt.Errorf("load %s=%s: %w", EnvFileVar, custom, err)
		}
		log.Printf("Loaded environment from %s: %s", EnvFileVar, custom)
		return custom, nil
	}

	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		requested = l.defaultPath
	}

	err := godotenv.Overload(requested)
	if err == nil {
		log.Printf("Loaded environment from: %s", requested)
		return requested, nil
	}
	if errors.Is(err, os.ErrNotExist) && !l.wasExplicit() {
		return "", nil
	}
	return "", fmt.Errorf("load env file %s: %w", requested, err)
}

func (l *EnvLoader) wasExplicit() bool {
	return l.explicit != nil && l.explicit()
}
