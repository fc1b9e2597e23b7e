// Command tdinvoke is the invoker/supervisor CLI: it extracts a
// function bundle, provisions its environment, and runs the worker
// binary against the already-written request document, forwarding
// shutdown signals and propagating the worker's exit code.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tabsdata/tdworker/internal/config"
	"github.com/tabsdata/tdworker/internal/envprov"
	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/mounts"
	"github.com/tabsdata/tdworker/internal/protocol"
	"github.com/tabsdata/tdworker/internal/secrets"
	"github.com/tabsdata/tdworker/internal/supervisor"
)

const requestFileName = "request.yaml"

func main() {
	var (
		folders      supervisor.Folders
		workerBinary string
		configFile   string
		platformTag  string
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "tdinvoke",
		Short: "Provision a function's environment and run it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetLevelFromString(logLevel)

			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			mountsDoc, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read mounts document from stdin: %w", err)
			}

			req, err := readRequest(folders.RequestFolder)
			if err != nil {
				return err
			}

			cache := envprov.NewCache(cfg.Env.CacheDir)
			opts := supervisor.Options{
				Folders:      folders,
				WorkerBinary: workerBinary,
				Cache:        cache,
				Build:        envprov.StageMarker,
				PlatformTag:  platformTag,
			}
			if cfg.Vault.Addr != "" {
				opts.VaultClient = mounts.NewHTTPVaultClient(cfg.Vault.Addr, cfg.Vault.Token)
			}
			if cfg.Secrets.Enabled {
				cipher, err := loadSecretCipher(cfg.Secrets)
				if err != nil {
					return fmt.Errorf("load secrets cipher: %w", err)
				}
				opts.SecretCipher = cipher
			}

			code, err := supervisor.Run(context.Background(), opts, req, mountsDoc)
			if err != nil {
				logging.Op().Error("invoke failed", "error", err)
				os.Exit(protocol.ExitGeneralError)
			}
			os.Exit(code)
			return nil
		},
	}

	cmd.Flags().StringVar(&folders.RequestFolder, "request-folder", "", "directory containing request.yaml")
	cmd.Flags().StringVar(&folders.ResponseFolder, "response-folder", "", "directory the worker writes response.yaml/exception.yaml into")
	cmd.Flags().StringVar(&folders.OutputFolder, "output-folder", "", "directory sunk output tables are written under")
	cmd.Flags().StringVar(&folders.BinFolder, "bin-folder", "", "directory to extract the bundle into")
	cmd.Flags().StringVar(&folders.LocksFolder, "locks-folder", "", "directory holding environment-provisioning lock files")
	cmd.Flags().StringVar(&folders.LogsFolder, "logs-folder", "", "directory for per-run logs")
	cmd.Flags().StringVar(&folders.CurrentInstance, "current-instance", "", "instance id this run belongs to")
	cmd.Flags().StringVar(&folders.Work, "work", "", "scratch working directory")
	cmd.Flags().StringVar(&workerBinary, "worker-binary", "tdworker", "path to the tdworker binary")
	cmd.Flags().StringVar(&configFile, "config", "", "path to config file")
	cmd.Flags().StringVar(&platformTag, "platform-tag", defaultPlatformTag(), "environment cache key platform tag")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	for _, required := range []string{"request-folder", "response-folder", "bin-folder", "locks-folder"} {
		cmd.MarkFlagRequired(required)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(protocol.ExitGeneralError)
	}
}

func readRequest(requestFolder string) (*protocol.Request, error) {
	data, err := os.ReadFile(filepath.Join(requestFolder, requestFileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", requestFileName, err)
	}
	return protocol.ParseRequest(data)
}

func defaultPlatformTag() string {
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

// loadSecretCipher builds the cipher that decrypts !direct-secret! mount
// values, preferring an inline key over a key file.
func loadSecretCipher(cfg config.SecretsConfig) (*secrets.Cipher, error) {
	if cfg.MasterKey != "" {
		return secrets.NewCipher(cfg.MasterKey)
	}
	return secrets.NewCipherFromFile(cfg.MasterKeyFile)
}
