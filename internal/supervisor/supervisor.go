// Package supervisor implements the invoker side of a run: it reads the
// mounts document, extracts the bundle, provisions its environment, and
// runs the worker binary as a monitored subprocess, forwarding shutdown
// signals and propagating its exit code unchanged.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/tabsdata/tdworker/internal/bundle"
	"github.com/tabsdata/tdworker/internal/envprov"
	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/mounts"
	"github.com/tabsdata/tdworker/internal/protocol"
	"github.com/tabsdata/tdworker/internal/secrets"
)

// Folders is the set of directories the invoker's CLI flags name.
type Folders struct {
	RequestFolder   string
	ResponseFolder  string
	OutputFolder    string
	BinFolder       string
	LocksFolder     string
	LogsFolder      string
	CurrentInstance string
	Work            string
}

// Options configures one Run invocation.
type Options struct {
	Folders
	WorkerBinary string // path to the cmd/tdworker binary
	Fetcher      bundle.Fetcher
	Cache        *envprov.Cache
	Build        envprov.Builder
	VaultClient  mounts.VaultClient
	SecretCipher *secrets.Cipher // decrypts !direct-secret! mount values; nil disables sealing
	PlatformTag  string
}

// blockedEnvPrefixes lists variables that would otherwise leak the
// supervisor's own interpreter search path into the provisioned
// subprocess environment.
var blockedEnvPrefixes = []string{"PYTHONPATH", "PYTHONHOME"}

// Run extracts the bundle named by req.Info.FunctionBundle, resolves
// mount credentials from mountsDoc, provisions the bundle's environment,
// and execs the worker binary, returning the subprocess's exit code (0
// on success).
func Run(ctx context.Context, opts Options, req *protocol.Request, mountsDoc []byte) (int, error) {
	runID := uuid.New().String()
	logging.Op().Info("supervisor: starting run", "run_id", runID, "function", req.Info.FunctionBundle.URI)

	doc, err := mounts.ParseDocument(mountsDoc, nil)
	if err != nil {
		return 0, fmt.Errorf("supervisor: parse mounts document: %w", err)
	}
	resolver := mounts.NewResolver(opts.VaultClient, opts.SecretCipher)
	resolvedEnv, err := resolver.Resolve(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("supervisor: resolve mounts: %w", err)
	}
	resolvedEnv["TD_RUN_ID"] = runID

	fb := req.Info.FunctionBundle
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = ObjectFetcher{EnvPrefix: fb.EnvPrefix}
	}
	if _, err := bundle.Extract(ctx, fb.URI, opts.BinFolder, fetcher); err != nil {
		return 0, fmt.Errorf("supervisor: extract bundle: %w", err)
	}

	cfg, err := bundle.LoadConfig(opts.BinFolder)
	if err != nil {
		return 0, fmt.Errorf("supervisor: load bundle config: %w", err)
	}

	manifest := []byte(cfg.RequirementsHash)
	if opts.Build != nil {
		envDir, err := envprov.Provision(ctx, manifest, opts.PlatformTag, opts.LocksFolder, opts.Cache, opts.Build)
		if err != nil {
			return 0, fmt.Errorf("supervisor: provision environment: %w", err)
		}
		resolvedEnv["TD_ENV_DIR"] = envDir
	}

	code, err := runWorker(ctx, opts, resolvedEnv)
	if err != nil {
		return 0, fmt.Errorf("supervisor: run worker: %w", err)
	}
	logging.Op().Info("supervisor: run complete", "run_id", runID, "exit_code", code)
	return code, nil
}

func runWorker(ctx context.Context, opts Options, resolvedEnv map[string]string) (int, error) {
	args := []string{
		"--request-folder", opts.RequestFolder,
		"--response-folder", opts.ResponseFolder,
		"--bin-folder", opts.BinFolder,
	}
	cmd := exec.CommandContext(ctx, opts.WorkerBinary, args...)
	cmd.Env = filteredEnviron(resolvedEnv)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start worker: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	sigCh := notifyShutdown()
	defer stopNotify(sigCh)

	select {
	case <-sigCh:
		logging.Op().Info("supervisor: forwarding shutdown signal to worker")
		forwardSignal(cmd)
		err := <-waitCh
		return exitCodeOf(err), nil
	case err := <-waitCh:
		if stderr.Len() > 0 {
			logging.Op().Warn("worker stderr", "output", stderr.String())
		}
		return exitCodeOf(err), nil
	}
}

// filteredEnviron strips any PYTHONPATH-class variable from the current
// process environment and injects the resolved TDS_*/TD_* mappings.
func filteredEnviron(resolved map[string]string) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+len(resolved))
	for _, kv := range base {
		blocked := false
		for _, prefix := range blockedEnvPrefixes {
			if strings.HasPrefix(kv, prefix+"=") {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, kv)
		}
	}
	for k, v := range resolved {
		out = append(out, k+"="+v)
	}
	return out
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return protocol.ExitGeneralError
}
