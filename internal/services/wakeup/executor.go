package wakeup

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
	"github.com/mlewan01/codex-cockpit/internal/services/accounts"
)

const (
	cliModel           = "gpt-5.3-codex"
	cliReasoningLevel  = "low"
	cliReasoningConfig = `model_reasoning_effort="low"`

	lastMessageFile = "last_message.txt"
	stdoutNoiseLine = "tokens used"
	fallbackReply   = "Wakeup request sent."
)

// ExitError is returned when the Codex CLI ran but exited nonzero. Detail
// holds a truncated stderr (or stdout) excerpt.
type ExitError struct {
	Detail string
	Code   int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("codex CLI wakeup failed (exit=%d): %s", e.Code, e.Detail)
}

// EnvSnapshot captures the pieces of the environment that drive executable
// discovery. Candidate generation is a pure function over a snapshot so it
// can be tested without touching the real filesystem.
type EnvSnapshot struct {
	Override     string // explicit executable path (CODEX_CLI_PATH)
	GOOS         string
	PathDirs     []string // split PATH entries
	AppData      string   // windows %APPDATA%
	LocalAppData string   // windows %LOCALAPPDATA%
	HomeDir      string
}

// CaptureEnv snapshots the real process environment. The override argument
// takes precedence over the CODEX_CLI_PATH variable.
func CaptureEnv(override string) EnvSnapshot {
	if override == "" {
		override = os.Getenv("CODEX_CLI_PATH")
	}
	home, _ := os.UserHomeDir()
	return EnvSnapshot{
		Override:     strings.TrimSpace(override),
		GOOS:         runtime.GOOS,
		PathDirs:     filepath.SplitList(os.Getenv("PATH")),
		AppData:      os.Getenv("APPDATA"),
		LocalAppData: os.Getenv("LOCALAPPDATA"),
		HomeDir:      home,
	}
}

// cliCandidates returns the ordered executable candidates for a snapshot:
// the explicit override, platform well-known install directories, then every
// PATH entry with platform-appropriate name variants.
func cliCandidates(env EnvSnapshot) []string {
	var candidates []string
	seen := make(map[string]struct{})

	add := func(path string) {
		key := strings.ToLower(path)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, path)
	}

	names := []string{"codex"}
	if env.GOOS == "windows" {
		names = []string{"codex.cmd", "codex.bat", "codex.exe", "codex"}
	}

	if env.Override != "" {
		add(env.Override)
	}

	if env.GOOS == "windows" {
		if env.AppData != "" {
			for _, name := range names {
				add(filepath.Join(env.AppData, "npm", name))
			}
		}
		if env.LocalAppData != "" {
			add(filepath.Join(env.LocalAppData, "Programs", "Codex", "codex.exe"))
			add(filepath.Join(env.LocalAppData, "Programs", "codex", "codex.exe"))
		}
	} else {
		add(filepath.Join("/usr/local/bin", "codex"))
		if env.HomeDir != "" {
			add(filepath.Join(env.HomeDir, ".local", "bin", "codex"))
		}
	}

	for _, dir := range env.PathDirs {
		if dir == "" {
			continue
		}
		for _, name := range names {
			add(filepath.Join(dir, name))
		}
	}

	return candidates
}

// resolveCLIPath returns the first candidate that exists as a regular file.
// The not-found error lists up to 12 checked candidates.
func resolveCLIPath(env EnvSnapshot) (string, error) {
	candidates := cliCandidates(env)
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}

	preview := candidates
	if len(preview) > 12 {
		preview = preview[:12]
	}
	checked := strings.Join(preview, ", ")
	if checked == "" {
		checked = "<none>"
	}
	return "", fmt.Errorf("codex CLI executable not found, checked paths: %s", checked)
}

// Executor runs the Codex CLI probe inside a disposable scratch home.
type Executor struct {
	// CLIPath overrides executable discovery when set.
	CLIPath string
	// ScratchBase overrides the scratch directory base (defaults to the
	// system temp directory).
	ScratchBase string
	// WriteAuth materializes the account's credential material into the
	// scratch home. Defaults to accounts.WriteAuthFile.
	WriteAuth func(dir string, account *models.Account) error
}

// NewExecutor creates an executor. cliPath may be empty to use discovery.
func NewExecutor(cliPath string) *Executor {
	return &Executor{
		CLIPath:   cliPath,
		WriteAuth: accounts.WriteAuthFile,
	}
}

// newScratchHome creates a uniquely named scratch directory for one
// invocation. Uniqueness derives from the process id plus a high-resolution
// timestamp so concurrent invocations never collide, including for the same
// account.
func (e *Executor) newScratchHome() (string, error) {
	base := e.ScratchBase
	if base == "" {
		base = os.TempDir()
	}
	base = filepath.Join(base, "codex-cockpit-wakeup")
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", fmt.Errorf("failed to create wakeup scratch base dir: %w", err)
	}

	dir := filepath.Join(base, fmt.Sprintf("session-%d-%d", os.Getpid(), time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create wakeup scratch dir: %w", err)
	}
	return dir, nil
}

// commandFor builds the exec.Cmd for an executable, routing .cmd/.bat files
// through the windows shell.
func commandFor(executable string, args ...string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		ext := strings.ToLower(filepath.Ext(executable))
		if ext == ".cmd" || ext == ".bat" {
			return exec.Command("cmd", append([]string{"/C", executable}, args...)...)
		}
	}
	return exec.Command(executable, args...)
}

// readLastMessage reads the CLI's last-message output file, falling back to
// the last non-blank stdout line that is not a known noise token, then to a
// generic completion message.
func readLastMessage(path, stdout string) string {
	if content, err := os.ReadFile(path); err == nil {
		if trimmed := strings.TrimSpace(string(content)); trimmed != "" {
			return trimmed
		}
	}

	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && line != stdoutNoiseLine {
			return line
		}
	}
	return fallbackReply
}

// Run invokes the Codex CLI against the account inside a disposable scratch
// home and returns the probe's last message. The scratch home is removed on
// every exit path; a cleanup failure is logged and never masks the primary
// result.
func (e *Executor) Run(account *models.Account, prompt string) (string, error) {
	scratchHome, err := e.newScratchHome()
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(scratchHome); err != nil {
			logger.Warn("failed to cleanup wakeup scratch home", "dir", scratchHome, "error", err)
		}
	}()

	cliPath := e.CLIPath
	if cliPath == "" {
		cliPath, err = resolveCLIPath(CaptureEnv(""))
		if err != nil {
			return "", err
		}
	}

	writeAuth := e.WriteAuth
	if writeAuth == nil {
		writeAuth = accounts.WriteAuthFile
	}
	if err := writeAuth(scratchHome, account); err != nil {
		return "", err
	}

	logger.Info("using codex CLI binary", "path", cliPath)

	outputFile := filepath.Join(scratchHome, lastMessageFile)
	args := []string{
		"exec",
		"-m", cliModel,
		"-c", cliReasoningConfig,
		"--skip-git-repo-check",
		"--color", "never",
		"--output-last-message", outputFile,
	}
	if cwd, err := os.Getwd(); err == nil {
		args = append(args, "-C", cwd)
	}
	args = append(args, prompt)

	cmd := commandFor(cliPath, args...)
	// The scratch home stands in as the CLI's config root so credential
	// material and state never touch the caller's real environment.
	cmd.Env = append(os.Environ(), "CODEX_HOME="+scratchHome)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = strings.TrimSpace(stdout.String())
			}
			return "", &ExitError{Code: exitErr.ExitCode(), Detail: truncate(detail, 500)}
		}
		return "", fmt.Errorf("failed to launch codex CLI wakeup (binary=%s): %w", cliPath, err)
	}

	return readLastMessage(outputFile, stdout.String()), nil
}

// truncate limits a string to max characters, appending an ellipsis.
func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max]) + "..."
}
