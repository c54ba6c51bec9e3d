package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/luadistops/luadistctl/luadistctl/luadist"
	"github.com/luadistops/luadistctl/luadistctl/runner"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, config runner.CommandConfig) (runner.CommandResult, error) {
	args := m.Called(config.Command, config.Dir)
	return args.Get(0).(runner.CommandResult), args.Error(1)
}

// fakeProber plays back a fixed sequence of presence answers.
type fakeProber struct {
	answers []bool
	calls   int
}

func (p *fakeProber) Exists(_ context.Context, _, _ string) (bool, error) {
	answer := p.answers[p.calls]
	p.calls++
	return answer, nil
}

func newTestReconciler(mockRunner *MockRunner, prober luadist.Prober) *Reconciler {
	return New(&luadist.Client{Runner: mockRunner, Prober: prober})
}

func TestReconcileMissingPath(t *testing.T) {
	rec := newTestReconciler(new(MockRunner), &fakeProber{})

	_, err := rec.Reconcile(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrMissingPath)
}

func TestReconcileBadPolicy(t *testing.T) {
	rec := newTestReconciler(new(MockRunner), &fakeProber{})

	_, err := rec.Reconcile(context.Background(), Request{Path: "/env", AllowDists: "binaries"})
	assert.Error(t, err)
}

func TestReconcileCheckMode(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{})

	result, err := rec.Reconcile(context.Background(), Request{
		Path:      "/env",
		Packages:  []string{"md5"},
		CheckMode: true,
	})
	assert.Nil(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "", result.Cmd)
	assert.Equal(t, "/env", result.EnvPath)
	assert.Empty(t, mockRunner.Calls)
}

func TestReconcileBootstrapsMissingEnvironment(t *testing.T) {
	mockRunner := new(MockRunner)
	// Absent on the initial check, present on the post-bootstrap recheck.
	prober := &fakeProber{answers: []bool{false, true}}
	rec := newTestReconciler(mockRunner, prober)

	mockRunner.On("Run", "curl -fksSL https://tinyurl.com/luadist | bash", "/env").
		Return(runner.CommandResult{}, nil)

	result, err := rec.Reconcile(context.Background(), Request{Path: "/env"})
	assert.Nil(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "", result.Cmd)
	mockRunner.AssertExpectations(t)
}

func TestReconcileEmptyPackagesAlreadyBootstrapped(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	result, err := rec.Reconcile(context.Background(), Request{Path: "/env"})
	assert.Nil(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "", result.Cmd)
	assert.Empty(t, mockRunner.Calls)
}

func TestReconcileInstallsMissingPackage(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	mockRunner.On("Run", "./LuaDist/bin/luadist list md5", "/env").
		Return(runner.CommandResult{STDOUT: "No packages found"}, nil)
	wantCmd := `./LuaDist/bin/luadist install md5  -source=false -binary=true -repos="git://example.org/repo.git"`
	mockRunner.On("Run", wantCmd, "/env").
		Return(runner.CommandResult{STDOUT: "Installation successful"}, nil)

	result, err := rec.Reconcile(context.Background(), Request{
		Path:       "/env",
		Packages:   []string{"md5"},
		AllowDists: luadist.DistBinary,
		DistsRepo:  "git://example.org/repo.git",
	})
	assert.Nil(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, wantCmd, result.Cmd)
	assert.Equal(t, "/env", result.EnvPath)
	assert.Equal(t, []string{"md5"}, result.Packages)
	mockRunner.AssertExpectations(t)
}

func TestReconcileAllPackagesPresent(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	mockRunner.On("Run", "./LuaDist/bin/luadist list luacurl", "/env").
		Return(runner.CommandResult{STDOUT: "luacurl 1.0"}, nil)
	mockRunner.On("Run", "./LuaDist/bin/luadist list md5", "/env").
		Return(runner.CommandResult{STDOUT: "md5 1.2"}, nil)

	result, err := rec.Reconcile(context.Background(), Request{
		Path:     "/env",
		Packages: []string{"luacurl", "md5"},
	})
	assert.Nil(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "", result.Cmd)
	mockRunner.AssertExpectations(t)
}

// The audit stops at the first miss; later packages are never listed
// individually because the install re-requests the full set anyway.
func TestReconcileAuditShortCircuits(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	mockRunner.On("Run", "./LuaDist/bin/luadist list luacurl", "/env").
		Return(runner.CommandResult{STDOUT: ""}, nil)
	wantCmd := `./LuaDist/bin/luadist install luacurl luagl md5  -source=true -binary=true -repos="git://github.com/LuaDist/Repository.git"`
	mockRunner.On("Run", wantCmd, "/env").
		Return(runner.CommandResult{}, nil)

	result, err := rec.Reconcile(context.Background(), Request{
		Path:     "/env",
		Packages: []string{"luacurl", "luagl", "md5"},
	})
	assert.Nil(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, wantCmd, result.Cmd)
	mockRunner.AssertExpectations(t)
	mockRunner.AssertNotCalled(t, "Run", "./LuaDist/bin/luadist list luagl", "/env")
	mockRunner.AssertNotCalled(t, "Run", "./LuaDist/bin/luadist list md5", "/env")
}

func TestReconcileIdempotent(t *testing.T) {
	mockRunner := new(MockRunner)
	// First run: bootstrap (absent, then present) and install. Second run:
	// present, package listed.
	prober := &fakeProber{answers: []bool{false, true, true}}
	rec := newTestReconciler(mockRunner, prober)

	mockRunner.On("Run", "curl -fksSL https://tinyurl.com/luadist | bash", "/env").
		Return(runner.CommandResult{}, nil).Once()
	mockRunner.On("Run", "./LuaDist/bin/luadist list md5", "/env").
		Return(runner.CommandResult{STDOUT: ""}, nil).Once()
	wantCmd := `./LuaDist/bin/luadist install md5  -source=true -binary=true -repos="git://github.com/LuaDist/Repository.git"`
	mockRunner.On("Run", wantCmd, "/env").
		Return(runner.CommandResult{}, nil).Once()
	mockRunner.On("Run", "./LuaDist/bin/luadist list md5", "/env").
		Return(runner.CommandResult{STDOUT: "md5 1.2"}, nil).Once()

	req := Request{Path: "/env", Packages: []string{"md5"}}

	first, err := rec.Reconcile(context.Background(), req)
	assert.Nil(t, err)
	assert.True(t, first.Changed)

	second, err := rec.Reconcile(context.Background(), req)
	assert.Nil(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, "", second.Cmd)
	mockRunner.AssertExpectations(t)
}

func TestReconcileInstallNoopPhraseIsSuccess(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	mockRunner.On("Run", "./LuaDist/bin/luadist list md5", "/env").
		Return(runner.CommandResult{STDOUT: ""}, nil)
	wantCmd := `./LuaDist/bin/luadist install md5  -source=true -binary=true -repos="git://github.com/LuaDist/Repository.git"`
	mockRunner.On("Run", wantCmd, "/env").
		Return(runner.CommandResult{STDOUT: "No packages to install", ExitCode: 1}, errors.New("exit status 1"))

	result, err := rec.Reconcile(context.Background(), Request{Path: "/env", Packages: []string{"md5"}})
	assert.Nil(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, wantCmd, result.Cmd)
}

func TestReconcileInstallFailure(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	mockRunner.On("Run", "./LuaDist/bin/luadist list nosuchpkg", "/env").
		Return(runner.CommandResult{STDOUT: ""}, nil)
	wantCmd := `./LuaDist/bin/luadist install nosuchpkg  -source=true -binary=true -repos="git://github.com/LuaDist/Repository.git"`
	mockRunner.On("Run", wantCmd, "/env").
		Return(runner.CommandResult{STDOUT: "Error: no such dist", ExitCode: 1}, errors.New("exit status 1"))

	_, err := rec.Reconcile(context.Background(), Request{Path: "/env", Packages: []string{"nosuchpkg"}})
	var installErr *luadist.InstallError
	assert.ErrorAs(t, err, &installErr)
}

func TestReconcileAuditFailure(t *testing.T) {
	mockRunner := new(MockRunner)
	rec := newTestReconciler(mockRunner, &fakeProber{answers: []bool{true}})

	mockRunner.On("Run", "./LuaDist/bin/luadist list md5", "/env").
		Return(runner.CommandResult{STDERR: "luadist: broken", ExitCode: 2}, errors.New("exit status 2"))

	_, err := rec.Reconcile(context.Background(), Request{Path: "/env", Packages: []string{"md5"}})
	var auditErr *luadist.AuditError
	assert.ErrorAs(t, err, &auditErr)
}

func TestReconcileBootstrapFailure(t *testing.T) {
	mockRunner := new(MockRunner)
	// Still absent after the bootstrap attempt.
	prober := &fakeProber{answers: []bool{false, false}}
	rec := newTestReconciler(mockRunner, prober)

	mockRunner.On("Run", "curl -fksSL https://tinyurl.com/luadist | bash", "/env").
		Return(runner.CommandResult{STDERR: "curl: (6) could not resolve host", ExitCode: 6}, errors.New("exit status 6"))

	_, err := rec.Reconcile(context.Background(), Request{Path: "/env", Packages: []string{"md5"}})
	var bootErr *luadist.BootstrapError
	assert.ErrorAs(t, err, &bootErr)
	// Bootstrap failure aborts before any audit runs.
	mockRunner.AssertNotCalled(t, "Run", "./LuaDist/bin/luadist list md5", "/env")
}
