package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/testutil"
	"github.com/vk/cargo-optee/internal/toolchain"
)

func TestBuildCA_StripsInPlace(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, logs := testContext(t)
	p := testutil.NewProject(t, "hello_world-rs", "")
	bin := p.Output(t, "arm-unknown-linux-gnueabihf", "release", "hello_world-rs")
	runner := &testutil.FakeRunner{TargetDir: p.TargetDir}

	opts := CAOptions{
		Common: Common{
			Arch:       target.Arm,
			ProjectDir: p.Dir,
			Env:        []toolchain.EnvVar{{Key: "OPTEE_CLIENT_EXPORT", Value: "/override"}, {Key: "X", Value: "1"}},
		},
		OpteeClientExport: p.ClientExport,
	}

	// Act
	art, err := newTestBuilder(runner, "").BuildCA(ctx, opts)

	// Assert
	require.NoError(t, err)
	want := []string{
		"cargo fmt",
		"cargo clippy --target arm-unknown-linux-gnueabihf" + clippyTail,
		`cargo build --target arm-unknown-linux-gnueabihf --release --config target.arm-unknown-linux-gnueabihf.linker="arm-linux-gnueabihf-gcc"`,
		"cargo metadata --manifest-path " + filepath.Join(p.Dir, "Cargo.toml") + " --format-version 1 --no-deps",
		"arm-linux-gnueabihf-objcopy --strip-unneeded " + bin + " " + bin,
	}
	if diff := cmp.Diff(want, runner.CommandLines()); diff != "" {
		t.Errorf("command lines mismatch (-want +got):\n%s", diff)
	}

	clippy, ok := runner.Find("cargo clippy")
	require.True(t, ok)
	assert.Equal(t, []toolchain.EnvVar{
		{Key: "OPTEE_CLIENT_EXPORT", Value: p.ClientExport},
		{Key: "OPTEE_CLIENT_EXPORT", Value: "/override"},
		{Key: "X", Value: "1"},
	}, clippy.Env)
	export, _ := toolchain.Lookup(clippy.Env, toolchain.EnvOpteeClientExport)
	assert.Equal(t, "/override", export, "custom env is applied last")

	require.Equal(t, &Artifact{Kind: config.KindCA, Path: bin}, art)
	assert.Contains(t, logs.String(), "CA build successfully!")
}

func TestBuildCA_PluginCopiesSharedLibrary(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testContext(t)
	p := testutil.NewProject(t, "syslog-plugin", "")
	lib := p.Output(t, "aarch64-unknown-linux-gnu", "debug", "libsyslog_plugin.so")
	runner := &testutil.FakeRunner{TargetDir: p.TargetDir}

	opts := CAOptions{
		Common: Common{
			Arch:       target.Aarch64,
			Debug:      true,
			ProjectDir: p.Dir,
			Features:   "log",
		},
		Plugin:            true,
		OpteeClientExport: p.ClientExport,
		UUIDPath:          p.UUIDFile,
	}

	// Act
	art, err := newTestBuilder(runner, "").BuildCA(ctx, opts)

	// Assert
	require.NoError(t, err)
	dst := filepath.Join(filepath.Dir(lib), testutil.TestUUID+".plugin.so")
	require.Equal(t, &Artifact{Kind: config.KindPlugin, Path: dst, UUID: testutil.TestUUID}, art)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "\x7fELF", string(data))

	build, ok := runner.Find("cargo build")
	require.True(t, ok)
	assert.Equal(t, []string{
		"build", "--target", "aarch64-unknown-linux-gnu", "--features", "log",
		"--config", `target.aarch64-unknown-linux-gnu.linker="aarch64-linux-gnu-gcc"`,
	}, build.Args)
	_, stripped := runner.Find("aarch64-linux-gnu-objcopy")
	assert.False(t, stripped, "plugins are copied, not stripped")
}

func TestBuildCA_PluginErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		uuidPath func(p *testutil.Project) string
		noLib    bool
		wantErr  string
	}{
		{
			name:     "uuid path required",
			uuidPath: func(*testutil.Project) string { return "" },
			wantErr:  ErrPluginUUIDRequired.Error(),
		},
		{
			name:     "library missing",
			uuidPath: func(p *testutil.Project) string { return p.UUIDFile },
			noLib:    true,
			wantErr:  "Plugin library not found at",
		},
		{
			name:     "uuid file missing",
			uuidPath: func(p *testutil.Project) string { return filepath.Join(p.Root, "missing.txt") },
			wantErr:  "UUID file not found",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx, _ := testContext(t)
			p := testutil.NewProject(t, "plugin", "")
			if !tc.noLib {
				p.Output(t, "aarch64-unknown-linux-gnu", "release", "libplugin.so")
			}
			runner := &testutil.FakeRunner{TargetDir: p.TargetDir}
			opts := CAOptions{
				Common:            Common{ProjectDir: p.Dir},
				Plugin:            true,
				OpteeClientExport: p.ClientExport,
				UUIDPath:          tc.uuidPath(p),
			}

			_, err := newTestBuilder(runner, "").BuildCA(ctx, opts)

			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestInstall(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testContext(t)
	dir := t.TempDir()
	src := filepath.Join(dir, testutil.TestUUID+".ta")
	require.NoError(t, os.WriteFile(src, []byte("signed"), 0o640))
	dest := filepath.Join(dir, "out", "shared")

	// Act
	got, err := New(&testutil.FakeRunner{}).Install(ctx, &Artifact{Kind: config.KindTA, Path: src}, dest)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, testutil.TestUUID+".ta"), got)
	info, err := os.Stat(got)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	_, err = New(&testutil.FakeRunner{}).Install(ctx, nil, dest)
	assert.Error(t, err)
}

func TestInstall_IntoArtifactDirectory(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testContext(t)
	dir := t.TempDir()
	bin := filepath.Join(dir, "host")
	require.NoError(t, os.WriteFile(bin, []byte("ELF-binary-contents"), 0o755))

	// Act
	got, err := New(&testutil.FakeRunner{}).Install(ctx, &Artifact{Kind: config.KindCA, Path: bin}, dir)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, bin, got)
	data, err := os.ReadFile(bin)
	require.NoError(t, err)
	assert.Equal(t, "ELF-binary-contents", string(data))
}

func TestClean(t *testing.T) {
	t.Parallel()

	// Arrange
	ctx, _ := testContext(t)
	p := testutil.NewProject(t, "ta", "")
	scratch := filepath.Join(p.Dir, "target", "cargo-optee")
	testutil.WriteFiles(t, scratch, map[string]string{"specs/x.json": "{}"})
	runner := &testutil.FakeRunner{}

	// Act
	err := New(runner).Clean(ctx, p.Dir)

	// Assert
	require.NoError(t, err)
	assert.NoDirExists(t, scratch)
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cargo clean", calls[0].String())
	assert.Equal(t, p.Dir, calls[0].Dir)
}

func TestClean_CargoFails(t *testing.T) {
	t.Parallel()

	ctx, _ := testContext(t)
	p := testutil.NewProject(t, "ta", "")
	scratch := filepath.Join(p.Dir, "target", "cargo-optee")
	testutil.WriteFiles(t, scratch, map[string]string{"keep": ""})
	runner := &testutil.FakeRunner{FailOn: testutil.FailCommand("cargo clean", 101)}

	err := New(runner).Clean(ctx, p.Dir)

	require.Error(t, err)
	assert.Equal(t, 101, toolchain.ExitCode(err))
	assert.DirExists(t, scratch)
}
