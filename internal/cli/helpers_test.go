package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tandem-app/tandem/internal/daemon"
	"github.com/tandem-app/tandem/internal/domain"
)

func TestResolveIDs(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Partnership.ID = "p1"
	cfg.Partnership.Local = "alex"

	tests := []struct {
		name        string
		flagPID     string
		flagPartner string
		cfg         daemon.Config
		wantPID     string
		wantPartner string
		wantErr     error
	}{
		{"from config", "", "", cfg, "p1", "alex", nil},
		{"flags win", "p2", "sam", cfg, "p2", "sam", nil},
		{"missing partnership", "", "sam", daemon.DefaultConfig(), "", "", domain.ErrMissingPartnership},
		{"missing partner", "p2", "", daemon.DefaultConfig(), "", "", domain.ErrMissingPartner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partnershipFlag, partnerFlag = tt.flagPID, tt.flagPartner
			defer func() { partnershipFlag, partnerFlag = "", "" }()

			pid, partner, err := resolveIDs(tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if pid != tt.wantPID || partner != tt.wantPartner {
				t.Errorf("got (%q, %q), want (%q, %q)", pid, partner, tt.wantPID, tt.wantPartner)
			}
		})
	}
}

func TestReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	body := `{"actions":[{"id":"a1","title":"Call mum","assigned_to":"both","status":"pending"}]}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		t.Fatalf("readSnapshot: %v", err)
	}
	if len(snap.Actions) != 1 || snap.Actions[0].AssignedTo != domain.AssignBoth {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	if _, err := readSnapshot(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
