package permission

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/user/agentgate/internal/types"
)

// memAudit records audit entries in memory.
type memAudit struct {
	mu      sync.Mutex
	entries []*types.AuditEntry
}

func (m *memAudit) Record(_ context.Context, entry *types.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) Tail(_ context.Context, ownerID string, limit int) ([]*types.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.AuditEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].OwnerID == ownerID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memAudit) last() *types.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

func testPipeline(t *testing.T, cfg Config) (*Pipeline, *memAudit, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "project"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.ApprovedRoot = root
	audit := &memAudit{}
	return New(cfg, audit), audit, root
}

func request(tool string, input string) *types.ToolRequest {
	return &types.ToolRequest{Tool: tool, Input: json.RawMessage(input), RequestedAt: time.Now()}
}

func TestDenyListWins(t *testing.T) {
	p, audit, _ := testPipeline(t, Config{
		Allow: []string{"rm_everything"},
		Deny:  []string{"rm_everything"},
	})

	d := p.Evaluate(context.Background(), "alice", "project", request("rm_everything", `{}`))
	if d.Allow {
		t.Fatal("deny-list tool allowed")
	}
	if !d.Fatal {
		t.Error("deny-list hit should be exchange-fatal")
	}
	if entry := audit.last(); entry == nil || entry.Decision != types.DecisionDeny {
		t.Errorf("deny not audited: %+v", entry)
	}
}

func TestAllowListAbsenceDenies(t *testing.T) {
	p, _, _ := testPipeline(t, Config{Allow: []string{"read_file"}})

	if d := p.Evaluate(context.Background(), "alice", "project", request("read_file", `{}`)); !d.Allow {
		t.Errorf("allow-list member denied: %s", d.Reason)
	}
	if d := p.Evaluate(context.Background(), "alice", "project", request("write_file", `{}`)); d.Allow {
		t.Error("tool absent from configured allow list was allowed")
	}
}

func TestNoAllowListDefaultsToAllow(t *testing.T) {
	p, _, _ := testPipeline(t, Config{})

	if d := p.Evaluate(context.Background(), "alice", "project", request("anything", `{}`)); !d.Allow {
		t.Errorf("default allow violated: %s", d.Reason)
	}
}

func TestPathOutsideApprovedRootDenied(t *testing.T) {
	p, audit, _ := testPipeline(t, Config{})

	d := p.Evaluate(context.Background(), "alice", "project",
		request("write_file", `{"path":"/etc/passwd","content":"x"}`))
	if d.Allow {
		t.Fatal("write to /etc/passwd allowed")
	}
	entry := audit.last()
	if entry == nil || entry.Decision != types.DecisionDeny {
		t.Fatalf("denial not audited: %+v", entry)
	}
	if entry.Tool != "write_file" {
		t.Errorf("audited tool = %s", entry.Tool)
	}
}

func TestPathTraversalResolvedBeforeComparison(t *testing.T) {
	p, _, _ := testPipeline(t, Config{})

	d := p.Evaluate(context.Background(), "alice", "project",
		request("write_file", `{"path":"notes/../../../../etc/passwd"}`))
	if d.Allow {
		t.Fatal("dot-dot traversal allowed")
	}

	d = p.Evaluate(context.Background(), "alice", "project",
		request("write_file", `{"path":"notes/draft.md"}`))
	if !d.Allow {
		t.Errorf("in-root relative path denied: %s", d.Reason)
	}
}

func TestSymlinkEscapeDenied(t *testing.T) {
	p, _, root := testPipeline(t, Config{})

	outside := t.TempDir()
	link := filepath.Join(root, "project", "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}

	d := p.Evaluate(context.Background(), "alice", "project",
		request("write_file", `{"path":"escape/secrets.txt"}`))
	if d.Allow {
		t.Fatal("symlink escape allowed")
	}
}

func TestContextKeyEscapeDenied(t *testing.T) {
	p, _, _ := testPipeline(t, Config{})

	d := p.Evaluate(context.Background(), "alice", "../../etc",
		request("read_file", `{"path":"passwd"}`))
	if d.Allow {
		t.Fatal("context key escaping the approved root was accepted")
	}
}

func TestShellWriteOutsideRootDenied(t *testing.T) {
	p, _, _ := testPipeline(t, Config{})

	cases := []struct {
		command string
		allow   bool
	}{
		{`ls -la && cat notes.txt`, true},
		{`touch notes.txt`, true},
		{`echo pwned > /etc/cron.d/evil`, false},
		{`ls; rm -rf /var/lib`, false},
		{`grep -r "secret" . | tee /tmp/out`, false},
		{`cp notes.txt ../../../etc/shadow`, false},
	}
	for _, tc := range cases {
		input, _ := json.Marshal(map[string]string{"command": tc.command})
		d := p.Evaluate(context.Background(), "alice", "project", request("bash", string(input)))
		if d.Allow != tc.allow {
			t.Errorf("command %q: allow = %v, want %v (%s)", tc.command, d.Allow, tc.allow, d.Reason)
		}
	}
}

func TestBypassStillAudits(t *testing.T) {
	p, audit, _ := testPipeline(t, Config{Deny: []string{"write_file"}, Bypass: true})

	d := p.Evaluate(context.Background(), "alice", "project",
		request("write_file", `{"path":"/etc/passwd"}`))
	if !d.Allow {
		t.Fatal("bypass did not disable rules")
	}
	entry := audit.last()
	if entry == nil {
		t.Fatal("bypassed decision not audited")
	}
	if entry.Reason != "validation disabled" {
		t.Errorf("bypass audit reason = %q", entry.Reason)
	}
}

func TestSplitCommandsRespectsQuotes(t *testing.T) {
	got := splitCommands(`echo "a; b" && grep 'x|y' f.txt; ls`)
	want := []string{`echo "a; b"`, `grep 'x|y' f.txt`, `ls`}
	if len(got) != len(want) {
		t.Fatalf("got %d parts %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, got[i], want[i])
		}
	}
}
