// Command tdworker is the worker process entrypoint: it reads a request
// document, loads the bundle's declared contract and compiled handler,
// and drives funcexec.Run against it.
//
// A bundle has no dynamic "import user module" equivalent in Go, so the
// environment provisioner (internal/envprov) compiles the bundle's
// handler package into a buildmode=plugin shared object, and this
// binary loads it with the standard library's plugin package — the one
// place this port legitimately has no third-party alternative, since
// dynamic code loading is a runtime feature, not something an ecosystem
// library provides (see DESIGN.md).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"

	"github.com/spf13/cobra"

	"github.com/tabsdata/tdworker/internal/bundle"
	"github.com/tabsdata/tdworker/internal/funcexec"
	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/protocol"
)

// HandlerSymbol is the fixed exported symbol name a bundle's compiled
// plugin must expose: a variable of type funcexec.UserFunc.
const HandlerSymbol = "Handler"

// RequestFileName is the fixed filename the invoker writes the request
// document to before spawning the worker.
const RequestFileName = "request.yaml"

func main() {
	var (
		requestFolder  string
		responseFolder string
		binFolder      string
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "tdworker",
		Short: "Run a single function invocation against its request document",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetLevelFromString(logLevel)

			req, err := readRequest(requestFolder)
			if err != nil {
				return fmt.Errorf("tdworker: %w", err)
			}

			cfg, err := bundle.LoadConfig(binFolder)
			if err != nil {
				return fmt.Errorf("tdworker: %w", err)
			}

			handler, err := loadHandler(binFolder, cfg.FunctionName)
			if err != nil {
				return fmt.Errorf("tdworker: %w", err)
			}

			if err := funcexec.Run(context.Background(), cfg, req, handler, responseFolder); err != nil {
				logging.Op().Error("run failed", "function", cfg.FunctionName, "error", err)
				var ue *funcexec.UserError
				if errors.As(err, &ue) {
					os.Exit(protocol.ExitUserError)
				}
				os.Exit(protocol.ExitGeneralError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestFolder, "request-folder", "", "directory containing request.yaml")
	cmd.Flags().StringVar(&responseFolder, "response-folder", "", "directory to write response.yaml or exception.yaml into")
	cmd.Flags().StringVar(&binFolder, "bin-folder", "", "extracted bundle directory (CONFIG + compiled handler plugin)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.MarkFlagRequired("request-folder")
	cmd.MarkFlagRequired("response-folder")
	cmd.MarkFlagRequired("bin-folder")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(protocol.ExitGeneralError)
	}
}

func readRequest(requestFolder string) (*protocol.Request, error) {
	data, err := os.ReadFile(filepath.Join(requestFolder, RequestFileName))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", RequestFileName, err)
	}
	return protocol.ParseRequest(data)
}

// loadHandler opens the bundle's compiled plugin (named after the
// declared function) and resolves its Handler symbol.
func loadHandler(binFolder, functionName string) (funcexec.UserFunc, error) {
	soPath := filepath.Join(binFolder, functionName+".so")
	p, err := goplugin.Open(soPath)
	if err != nil {
		return nil, fmt.Errorf("open handler plugin %s: %w", soPath, err)
	}
	sym, err := p.Lookup(HandlerSymbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s symbol in %s: %w", HandlerSymbol, soPath, err)
	}
	switch h := sym.(type) {
	case funcexec.UserFunc:
		return h, nil
	case *funcexec.UserFunc:
		return *h, nil
	default:
		return nil, fmt.Errorf("%s symbol in %s has unexpected type %T", HandlerSymbol, soPath, sym)
	}
}
