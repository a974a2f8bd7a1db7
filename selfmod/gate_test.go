package selfmod

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/core"
)

func newTestGate(t *testing.T) (*Gate, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "playground"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "generated"), 0o755))

	gate, err := NewGate(root, core.SelfModConfig{
		AllowedZones:   []string{"playground/", "generated/", "experiments/"},
		ProtectedFiles: []string{"main.py", "docker-compose.yml", "go.mod"},
		BackupDir:      "backups",
	}, nil)
	require.NoError(t, err)
	return gate, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestCanModify(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/tool.py", "print('ok')\n")
	writeFile(t, root, "playground/main.py", "print('entry')\n")
	writeFile(t, root, "outside/file.py", "print('no')\n")

	assert.NoError(t, gate.CanModify("playground/tool.py"))

	err := gate.CanModify("playground/missing.py")
	assert.ErrorIs(t, err, core.ErrUnsafePath)

	err = gate.CanModify("playground/main.py")
	assert.ErrorIs(t, err, core.ErrProtectedFile)

	err = gate.CanModify("outside/file.py")
	assert.ErrorIs(t, err, core.ErrUnsafePath)
}

func TestCreateBackup(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/tool.py", "original\n")

	backup, err := gate.CreateBackup("playground/tool.py")
	require.NoError(t, err)

	assert.FileExists(t, backup.Path)
	assert.Contains(t, filepath.Base(backup.Path), "tool.py.backup.")
	assert.Len(t, backup.OriginalHash, 64)

	copied, err := os.ReadFile(backup.Path)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(copied))
}

func TestRiskLevels(t *testing.T) {
	assert.Equal(t, RiskLow, riskFor("add_function"))
	assert.Equal(t, RiskLow, riskFor("add_endpoint"))
	assert.Equal(t, RiskMedium, riskFor("optimize_code"))
	assert.Equal(t, RiskMedium, riskFor("refactor"))
	assert.Equal(t, RiskHigh, riskFor("delete_function"))
	assert.Equal(t, RiskHigh, riskFor("change_api"))
	assert.Equal(t, RiskMedium, riskFor("something_else"))
}

func TestProposeModification(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/tool.py", "v1\n")

	p, err := gate.ProposeModification("playground/tool.py", "optimize_code", "speed it up")
	require.NoError(t, err)
	assert.True(t, p.Approved)
	assert.False(t, p.RequiresConfirmation)
	assert.Equal(t, RiskMedium, p.RiskLevel)
	assert.FileExists(t, p.Backup.Path)

	high, err := gate.ProposeModification("playground/tool.py", "change_api", "break everything")
	require.NoError(t, err)
	assert.False(t, high.Approved)
	assert.True(t, high.RequiresConfirmation)
}

func TestApplyModification(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/config.json", `{"a":1}`)

	p, err := gate.ProposeModification("playground/config.json", "modify_logic", "bump value")
	require.NoError(t, err)

	result := gate.ApplyModification("playground/config.json", `{"a":2}`, p)
	assert.True(t, result.Success)
	assert.False(t, result.RolledBack)

	content, _ := os.ReadFile(filepath.Join(root, "playground/config.json"))
	assert.Equal(t, `{"a":2}`, string(content))

	stats := gate.Stats()
	assert.Equal(t, 1, stats.TotalModifications)
	assert.Equal(t, float64(100), stats.SuccessRate)
	assert.Equal(t, 1, stats.RiskDistribution[RiskMedium])
}

func TestApplyRollsBackOnBadSyntax(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/config.json", `{"a":1}`)

	origHash, err := gate.FileHash("playground/config.json")
	require.NoError(t, err)

	p, err := gate.ProposeModification("playground/config.json", "modify_logic", "corrupt it")
	require.NoError(t, err)

	result := gate.ApplyModification("playground/config.json", `{"a":`, p)
	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)

	afterHash, err := gate.FileHash("playground/config.json")
	require.NoError(t, err)
	assert.Equal(t, origHash, afterHash)

	content, _ := os.ReadFile(filepath.Join(root, "playground/config.json"))
	assert.Equal(t, `{"a":1}`, string(content))
}

func TestApplyRejectsUnapproved(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/tool.py", "v1\n")

	p, err := gate.ProposeModification("playground/tool.py", "change_api", "high risk")
	require.NoError(t, err)

	result := gate.ApplyModification("playground/tool.py", "v2\n", p)
	assert.False(t, result.Success)

	content, _ := os.ReadFile(filepath.Join(root, "playground/tool.py"))
	assert.Equal(t, "v1\n", string(content))
}

func TestApplyPythonBracketCheck(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/tool.py", "print('v1')\n")

	p, err := gate.ProposeModification("playground/tool.py", "modify_logic", "edit")
	require.NoError(t, err)

	result := gate.ApplyModification("playground/tool.py", "print('broken'\n", p)
	assert.False(t, result.Success)
	assert.True(t, result.RolledBack)
}

func TestExplicitRollback(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/tool.py", "v1\n")

	backup, err := gate.CreateBackup("playground/tool.py")
	require.NoError(t, err)

	writeFile(t, root, "playground/tool.py", "v2\n")
	require.NoError(t, gate.Rollback(backup.Path, "playground/tool.py"))

	content, _ := os.ReadFile(filepath.Join(root, "playground/tool.py"))
	assert.Equal(t, "v1\n", string(content))
}

func TestHistory(t *testing.T) {
	gate, root := newTestGate(t)
	writeFile(t, root, "playground/a.yaml", "a: 1\n")

	for i := 0; i < 3; i++ {
		p, err := gate.ProposeModification("playground/a.yaml", "modify_logic", "edit")
		require.NoError(t, err)
		gate.ApplyModification("playground/a.yaml", "a: 2\n", p)
	}

	assert.Len(t, gate.History(2), 2)
	assert.Len(t, gate.History(0), 3)
}
