package filestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-verify-ledger/internal/domain"
)

const auditTimeLayout = "2006-01-02 15:04:05"

var auditTimestamp = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) UTC\]`)

// lineBreaks keeps user-supplied text from splitting an entry across lines.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// AuditLog is a text log of redemption attempts that keeps only the trailing
// domain.AuditRetention window. Each Append rewrites the whole file.
type AuditLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, now: time.Now}
}

// Append drops lines older than the retention window or without a parseable
// timestamp, then adds e.
func (l *AuditLog) Append(_ context.Context, e domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	cutoff := now.Add(-domain.AuditRetention)
	if e.Timestamp.IsZero() || e.Timestamp.Before(cutoff) {
		e.Timestamp = now
	}

	kept, err := l.readWindow(cutoff)
	if err != nil {
		return err
	}
	kept = append(kept, FormatAuditLine(e))

	data := strings.Join(kept, "\n") + "\n"
	if err := writeFileAtomic(l.path+".tmp", l.path, []byte(data)); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func (l *AuditLog) readWindow(cutoff time.Time) ([]string, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var kept []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		m := auditTimestamp.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation(auditTimeLayout, m[1], time.UTC)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		kept = append(kept, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return kept, nil
}

// FormatAuditLine renders e as
// "[YYYY-MM-DD HH:MM:SS UTC] name (id) tried code 'CODE': outcome".
func FormatAuditLine(e domain.AuditEntry) string {
	actor := e.ActorID
	if e.ActorName != "" {
		actor = fmt.Sprintf("%s (%s)", e.ActorName, e.ActorID)
	}
	return lineBreaks.Replace(fmt.Sprintf("[%s UTC] %s tried code '%s': %s",
		e.Timestamp.UTC().Format(auditTimeLayout), actor, e.PresentedCode, e.Outcome))
}
