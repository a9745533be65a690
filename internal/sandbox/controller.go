package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
)

// DefaultWarnThresholdsMinutes are the soft elapsed-time thresholds applied
// when a session doesn't configure its own.
var DefaultWarnThresholdsMinutes = []float64{30, 50}

// DefaultHardCapMinutes is the elapsed time at which EnforceTimeout kills
// the remote sandbox outright.
const DefaultHardCapMinutes = 60.0

// DefaultBudgetFractionThresholds are the cost-fraction-of-limit thresholds
// CheckBudgetLimit fires a warning at.
var DefaultBudgetFractionThresholds = []float64{0.5, 0.8}

// Controller is the Sandbox Controller: owns the active-sandbox tracking
// map (the component's one piece of global state) and dispatches every
// operation through a Provider.
type Controller struct {
	provider Provider
	log      *slog.Logger

	mu          sync.Mutex
	sandboxes   map[string]*Sandbox
	timeoutHits map[string]map[float64]bool
	budgetHits  map[string]map[float64]bool
}

// New builds a Controller against provider.
func New(provider Provider, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		provider:    provider,
		log:         log,
		sandboxes:   make(map[string]*Sandbox),
		timeoutHits: make(map[string]map[float64]bool),
		budgetHits:  make(map[string]map[float64]bool),
	}
}

// CreateSandbox resolves the API credential, creates the remote sandbox,
// and begins tracking it.
func (c *Controller) CreateSandbox(ctx context.Context, sessionID, apiKey string, budgetLimit *float64) (*Sandbox, error) {
	if sessionID == "" {
		return nil, coordexerr.Validation("sessionID must not be empty")
	}
	key, err := ResolveAPIKey(apiKey)
	if err != nil {
		return nil, err
	}

	remoteID, err := c.provider.Create(ctx, key, sessionID)
	if err != nil {
		return nil, err
	}

	sb := &Sandbox{
		SandboxID:      remoteID,
		SessionID:      sessionID,
		APIKey:         key,
		Status:         StatusInitializing,
		CreatedAt:      time.Now(),
		TimeoutMinutes: DefaultHardCapMinutes,
		WarnThresholds: append([]float64(nil), DefaultWarnThresholdsMinutes...),
		HourlyRate:     0.10,
		BudgetLimit:    budgetLimit,
	}

	c.mu.Lock()
	c.sandboxes[remoteID] = sb
	c.timeoutHits[remoteID] = make(map[float64]bool)
	c.budgetHits[remoteID] = make(map[float64]bool)
	c.mu.Unlock()

	sb.Status = StatusRunning
	return sb, nil
}

// GetSandbox returns a tracked sandbox, or nil if it was never created or
// has been terminated and evicted.
func (c *Controller) GetSandbox(sandboxID string) *Sandbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sandboxes[sandboxID]
}

func (c *Controller) evict(sandboxID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sandboxes, sandboxID)
	delete(c.timeoutHits, sandboxID)
	delete(c.budgetHits, sandboxID)
}

// remotePathPattern enforces the Sandbox Controller's remote-path grammar:
// absolute, restricted charset, no traversal, no doubled slashes.
var remotePathPattern = regexp.MustCompile(`^[A-Za-z0-9/_.-]+$`)

// ValidateRemotePath checks a remote destination path per the Sandbox
// Controller's input-validation rules.
func ValidateRemotePath(path string) error {
	if !filepath.IsAbs(path) {
		return coordexerr.Validation("remote path %q must be absolute", path)
	}
	if !remotePathPattern.MatchString(path) {
		return coordexerr.Validation("remote path %q contains disallowed characters", path)
	}
	if strings.Contains(path, "//") {
		return coordexerr.Validation("remote path %q contains consecutive slashes", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return coordexerr.Validation("remote path %q contains a %q segment", path, seg)
		}
	}
	return nil
}

// UploadWorkspace builds an exclusion-filtered, gzipped tarball of
// localPath and uploads it to remotePath on sandboxID, chunking the
// archive if it exceeds ChunkThresholdBytes.
func (c *Controller) UploadWorkspace(ctx context.Context, sandboxID, localPath, remotePath string) error {
	sb := c.GetSandbox(sandboxID)
	if sb == nil {
		return coordexerr.NotFound("sandbox %s not tracked", sandboxID)
	}
	if err := ValidateRemotePath(remotePath); err != nil {
		return err
	}

	excl, err := BuildExclusionSet(localPath)
	if err != nil {
		return fmt.Errorf("build exclusion set: %w", err)
	}

	var buf bytes.Buffer
	fileCount, totalBytes, err := buildTarball(localPath, excl, &buf, c.log)
	if err != nil {
		return fmt.Errorf("build workspace tarball: %w", err)
	}

	if int64(buf.Len()) > ChunkThresholdBytes {
		if err := c.uploadChunked(ctx, sb, remotePath, buf.Bytes()); err != nil {
			return err
		}
	} else {
		uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := c.provider.Upload(uploadCtx, sb.APIKey, sb.SandboxID, remotePath, bytes.NewReader(buf.Bytes())); err != nil {
			return err
		}
	}

	if porcelain, statusErr := c.provider.StatusPorcelain(ctx, sb.APIKey, sb.SandboxID); statusErr == nil {
		remoteCount := len(parsePorcelainStatus(porcelain))
		if remoteCount != 0 && remoteCount != fileCount {
			c.log.Warn("uploaded file count mismatch", "local", fileCount, "remote_reported", remoteCount)
		}
	}

	c.log.Info("uploaded workspace", "sandbox", sandboxID, "files", fileCount, "bytes", totalBytes)
	return nil
}

// uploadChunked splits data into zero-padded numbered parts
// (<remotePath>.partN, so lexicographic order equals numeric order) and
// uploads each under its own two-minute deadline. It issues no remote
// concatenation or extraction of the uploaded parts.
func (c *Controller) uploadChunked(ctx context.Context, sb *Sandbox, remotePath string, data []byte) error {
	numParts := (len(data) + ChunkThresholdBytes - 1) / ChunkThresholdBytes
	width := len(strconv.Itoa(numParts - 1))
	if width < 1 {
		width = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numParts; i++ {
		i := i
		g.Go(func() error {
			start := i * ChunkThresholdBytes
			end := start + ChunkThresholdBytes
			if end > len(data) {
				end = len(data)
			}
			partPath := fmt.Sprintf("%s.part%0*d", remotePath, width, i)

			chunkCtx, cancel := context.WithTimeout(gctx, 2*time.Minute)
			defer cancel()
			return c.provider.Upload(chunkCtx, sb.APIKey, sb.SandboxID, partPath, bytes.NewReader(data[start:end]))
		})
	}
	return g.Wait()
}

// changedFileEntry is one parsed `XY filename` porcelain-status line,
// renames resolved to their new name.
type changedFileEntry struct {
	Status string
	Path   string
}

func parsePorcelainStatus(raw string) []changedFileEntry {
	var out []changedFileEntry
	for _, line := range strings.Split(raw, "\n") {
		if len(line) < 4 {
			continue
		}
		status := line[:2]
		rest := strings.TrimSpace(line[3:])
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			rest = rest[idx+4:]
		}
		out = append(out, changedFileEntry{Status: status, Path: rest})
	}
	return out
}

// DownloadChanges queries sandboxID for its changed files and
// downloads+extracts a tarball of just those files into localPath.
func (c *Controller) DownloadChanges(ctx context.Context, sandboxID, remotePath, localPath string) error {
	sb := c.GetSandbox(sandboxID)
	if sb == nil {
		return coordexerr.NotFound("sandbox %s not tracked", sandboxID)
	}

	porcelain, err := c.provider.StatusPorcelain(ctx, sb.APIKey, sb.SandboxID)
	if err != nil {
		return err
	}
	entries := parsePorcelainStatus(porcelain)
	if len(entries) == 0 {
		return nil
	}

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}

	r, err := c.provider.Download(ctx, sb.APIKey, sb.SandboxID, remotePath, paths)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := extractTarball(r, localPath); err != nil {
		return fmt.Errorf("extract downloaded changes: %w", err)
	}
	c.log.Info("downloaded changes", "sandbox", sandboxID, "files", len(entries))
	return nil
}

// EnforceTimeout compares elapsed time since creation to the sandbox's
// thresholds, firing each soft warning at most once and killing the
// sandbox on reaching the hard cap.
func (c *Controller) EnforceTimeout(ctx context.Context, sandboxID string) (*TimeoutWarning, error) {
	sb := c.GetSandbox(sandboxID)
	if sb == nil {
		return nil, nil
	}

	elapsed := time.Since(sb.CreatedAt).Minutes()

	if elapsed >= sb.TimeoutMinutes {
		if err := c.provider.Kill(ctx, sb.APIKey, sb.SandboxID); err != nil {
			c.log.Warn("kill on hard timeout failed", "sandbox", sandboxID, "error", err)
		}
		sb.Status = StatusTerminated
		c.evict(sandboxID)
		return &TimeoutWarning{
			SandboxID:      sandboxID,
			ElapsedMinutes: elapsed,
			ThresholdHit:   sb.TimeoutMinutes,
			EstimatedCost:  sb.HourlyRate * (elapsed / 60.0),
			Hard:           true,
		}, nil
	}

	c.mu.Lock()
	hits := c.timeoutHits[sandboxID]
	c.mu.Unlock()

	for _, threshold := range sb.WarnThresholds {
		if elapsed >= threshold && !hits[threshold] {
			c.mu.Lock()
			hits[threshold] = true
			c.mu.Unlock()
			return &TimeoutWarning{
				SandboxID:      sandboxID,
				ElapsedMinutes: elapsed,
				ThresholdHit:   threshold,
				EstimatedCost:  sb.HourlyRate * (elapsed / 60.0),
			}, nil
		}
	}
	return nil, nil
}

// CheckBudgetLimit compares a sandbox's current cost to its configured
// budget limit, firing a warning at the configured fraction thresholds and
// terminating the sandbox once cost reaches the limit.
func (c *Controller) CheckBudgetLimit(ctx context.Context, sandboxID string, currentCost float64) (*BudgetWarning, error) {
	sb := c.GetSandbox(sandboxID)
	if sb == nil || sb.BudgetLimit == nil {
		return nil, nil
	}
	limit := *sb.BudgetLimit

	if currentCost >= limit {
		if err := c.provider.Kill(ctx, sb.APIKey, sb.SandboxID); err != nil {
			c.log.Warn("kill on budget exceeded failed", "sandbox", sandboxID, "error", err)
		}
		sb.Status = StatusTerminated
		c.evict(sandboxID)
		return &BudgetWarning{
			SandboxID:    sandboxID,
			CurrentCost:  currentCost,
			Limit:        limit,
			FractionUsed: currentCost / limit,
			Terminated:   true,
		}, coordexerr.BudgetExceeded(currentCost, limit)
	}

	c.mu.Lock()
	hits := c.budgetHits[sandboxID]
	c.mu.Unlock()

	fraction := currentCost / limit
	for _, threshold := range DefaultBudgetFractionThresholds {
		if fraction >= threshold && !hits[threshold] {
			c.mu.Lock()
			hits[threshold] = true
			c.mu.Unlock()
			return &BudgetWarning{
				SandboxID:    sandboxID,
				CurrentCost:  currentCost,
				Limit:        limit,
				FractionUsed: fraction,
			}, nil
		}
	}
	return nil, nil
}

// secretPattern is one (kind, regex) pair CredentialScan checks a line
// against, generalized from the teacher's per-language import-detection
// table into a per-secret-kind table.
type secretPattern struct {
	Kind    string
	Pattern *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"AWS access key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"AWS secret key", regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]\s*['"]?[A-Za-z0-9/+=]{30,}`)},
	{"Stripe key", regexp.MustCompile(`sk_(live|test)_[0-9A-Za-z]{16,}`)},
	{"GitHub token", regexp.MustCompile(`gh[pousr]_[0-9A-Za-z]{36,}`)},
	{"OAuth bearer token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`)},
	{"generic API key", regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,}`)},
	{"generic password", regexp.MustCompile(`(?i)password\s*[:=]\s*['"][^'"]{6,}['"]`)},
	{"SSH private key", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`)},
	{"JWT", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
}

// scannableExt are file extensions CredentialScan treats as text.
var scannableExt = map[string]bool{
	".env": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".go": true, ".ts": true, ".js": true, ".py": true, ".sh": true,
	".txt": true, ".cfg": true, ".ini": true, ".conf": true,
}

// scannableNames are well-known filenames scanned regardless of extension.
var scannableNames = map[string]bool{".env": true, "credentials": true, "config": true}

// CredentialScan walks path looking for likely-leaked credentials in text
// files, flagging any file with at least one match.
func CredentialScan(path string) (*ScanReport, error) {
	report := &ScanReport{RootPath: path}

	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, heavy := range heavyDirs {
				if d.Name() == heavy {
					return filepath.SkipDir
				}
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(p))
		if !scannableExt[ext] && !scannableNames[strings.ToLower(d.Name())] {
			return nil
		}

		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		report.FilesScanned++

		content := string(data)
		for _, sp := range secretPatterns {
			if sp.Pattern.MatchString(content) {
				report.Findings = append(report.Findings, ScanFinding{Path: p, Reason: sp.Kind})
				break
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", path, walkErr)
	}
	return report, nil
}
