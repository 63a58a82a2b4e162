package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

func TestExtractMetadata_TA(t *testing.T) {
	t.Parallel()

	meta := map[string]any{
		"optee": map[string]any{
			"ta": map[string]any{
				"arch":  "arm",
				"debug": true,
				"std":   true,
				"ta-dev-kit-dir": map[string]any{
					"aarch64": "/opt/ta_dev_kit_arm64",
					"arm":     "/opt/ta_dev_kit_arm32",
				},
				"signing-key": "/opt/signing.pem",
				"env": []any{
					"RUSTFLAGS=-C target-feature=+crt-static",
					"RUST_LOG=debug",
				},
			},
		},
	}

	md, err := ExtractMetadata(context.Background(), meta, KindTA)
	require.NoError(t, err)
	require.Equal(t, &Metadata{
		Arch:        target.Arm,
		Debug:       true,
		Std:         true,
		TADevKitDir: "/opt/ta_dev_kit_arm32",
		SigningKey:  "/opt/signing.pem",
		Env: []toolchain.EnvVar{
			{Key: "RUSTFLAGS", Value: "-C target-feature=+crt-static"},
			{Key: "RUST_LOG", Value: "debug"},
		},
	}, md)
}

func TestExtractMetadataForArch_Override(t *testing.T) {
	t.Parallel()

	meta := map[string]any{
		"optee": map[string]any{
			"ca": map[string]any{
				"arch":  "arm",
				"debug": false,
				"optee-client-export": map[string]any{
					"aarch64": "/opt/client_arm64",
					"arm":     "/opt/client_arm32",
				},
				"signing-key": "/ignored/for/ca.pem",
				"env":         []any{"BUILD_MODE=release"},
			},
		},
	}

	md, err := ExtractMetadataForArch(context.Background(), meta, KindCA, target.Aarch64)
	require.NoError(t, err)
	require.Equal(t, target.Aarch64, md.Arch)
	require.False(t, md.Debug)
	require.False(t, md.Std)
	require.Empty(t, md.TADevKitDir)
	require.Empty(t, md.SigningKey)
	require.Equal(t, "/opt/client_arm64", md.OpteeClientExport)
	require.Equal(t, []toolchain.EnvVar{{Key: "BUILD_MODE", Value: "release"}}, md.Env)
}

func TestExtractMetadata_Defaults(t *testing.T) {
	t.Parallel()

	meta := map[string]any{"optee": map[string]any{"plugin": map[string]any{}}}

	md, err := ExtractMetadata(context.Background(), meta, KindPlugin)
	require.NoError(t, err)
	require.Equal(t, &Metadata{Arch: target.Aarch64}, md)
}

func TestExtractMetadata_InvalidArchFallsBack(t *testing.T) {
	t.Parallel()

	meta := map[string]any{"optee": map[string]any{"ta": map[string]any{"arch": "riscv"}}}

	md, err := ExtractMetadata(context.Background(), meta, KindTA)
	require.NoError(t, err)
	require.Equal(t, target.Aarch64, md.Arch)
}

func TestExtractMetadata_SkipsInvalidEnv(t *testing.T) {
	t.Parallel()

	meta := map[string]any{
		"optee": map[string]any{
			"ca": map[string]any{
				"env": []any{"VALID_VAR=value", "INVALID_VAR_NO_EQUALS", int64(3), "ANOTHER_VALID=test"},
			},
		},
	}

	md, err := ExtractMetadata(context.Background(), meta, KindCA)
	require.NoError(t, err)
	require.Equal(t, []toolchain.EnvVar{
		{Key: "VALID_VAR", Value: "value"},
		{Key: "ANOTHER_VALID", Value: "test"},
	}, md.Env)
}

func TestExtractMetadata_ArchTables(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		value    any
		arch     target.Arch
		expected string
	}{
		{name: "table hit", value: map[string]any{"aarch64": "/kit64"}, arch: target.Aarch64, expected: "/kit64"},
		{name: "table missing arch", value: map[string]any{"aarch64": "/kit64"}, arch: target.Arm, expected: ""},
		{name: "plain string for every arch", value: "/kit", arch: target.Arm, expected: "/kit"},
		{name: "empty string is unset", value: map[string]any{"arm": ""}, arch: target.Arm, expected: ""},
		{name: "non-string value is unset", value: map[string]any{"arm": true}, arch: target.Arm, expected: ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			meta := map[string]any{"optee": map[string]any{"ta": map[string]any{"ta-dev-kit-dir": tc.value}}}
			md, err := ExtractMetadataForArch(context.Background(), meta, KindTA, tc.arch)
			require.NoError(t, err)
			require.Equal(t, tc.expected, md.TADevKitDir)
		})
	}
}

func TestExtractMetadata_MissingSections(t *testing.T) {
	t.Parallel()

	_, err := ExtractMetadata(context.Background(), map[string]any{}, KindTA)
	require.ErrorIs(t, err, ErrNoOpteeMetadata)

	_, err = ExtractMetadata(context.Background(), map[string]any{"optee": map[string]any{"ca": map[string]any{}}}, KindTA)
	require.ErrorIs(t, err, ErrNoComponentMetadata)
}

func TestUUIDPathFromMetadata(t *testing.T) {
	t.Parallel()

	meta := map[string]any{
		"optee": map[string]any{
			"ta":     map[string]any{"uuid-path": "../ta-uuid.txt"},
			"plugin": map[string]any{"uuid-path": "../plugin-uuid.txt"},
		},
	}

	p, ok := UUIDPathFromMetadata(meta, KindPlugin)
	require.True(t, ok)
	require.Equal(t, "../plugin-uuid.txt", p)

	p, ok = UUIDPathFromMetadata(meta, KindCA)
	require.True(t, ok)
	require.Equal(t, "../ta-uuid.txt", p)

	_, ok = UUIDPathFromMetadata(nil, KindTA)
	require.False(t, ok)
}
