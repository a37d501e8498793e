package registry

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func newTestNamespace(t *testing.T, env map[string]string) *Namespace {
	t.Helper()

	reg := New(WithLogger(zaptest.NewLogger(t)), WithLookupEnv(envMap(env)))
	ns, err := reg.NewNamespace("compiler")
	if err != nil {
		t.Fatalf("NewNamespace returned error: %v", err)
	}
	return ns
}

func TestRegisterLiteralDefault(t *testing.T) {
	ns := newTestNamespace(t, nil)

	ns.MustRegister(Setting{Name: "name", Kind: KindString, Default: "inductor"})
	ns.MustRegister(Setting{Name: "level", Kind: KindInt, Default: 3})
	ns.MustRegister(Setting{Name: "verbose", Kind: KindBool})

	if got, err := ns.String("name"); err != nil || got != "inductor" {
		t.Fatalf("expected inductor, got %q (err %v)", got, err)
	}
	if got, err := ns.Int("level"); err != nil || got != 3 {
		t.Fatalf("expected 3, got %d (err %v)", got, err)
	}
	if got, err := ns.Bool("verbose"); err != nil || got {
		t.Fatalf("expected zero-value false, got %v (err %v)", got, err)
	}
}

func TestRegisterEnvironmentDefault(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		kind       Kind
		def        any
		want       any
		wantSource Source
	}{
		{
			name:       "StringFromEnv",
			env:        map[string]string{"JOB": "job-7"},
			kind:       KindOptionalString,
			want:       "job-7",
			wantSource: SourceEnv,
		},
		{
			name:       "AbsentFallsBack",
			env:        map[string]string{},
			kind:       KindOptionalString,
			want:       nil,
			wantSource: SourceDefault,
		},
		{
			name:       "EmptyFallsBack",
			env:        map[string]string{"JOB": ""},
			kind:       KindString,
			def:        "fallback",
			want:       "fallback",
			wantSource: SourceDefault,
		},
		{
			name:       "BoolConverted",
			env:        map[string]string{"JOB": "on"},
			kind:       KindBool,
			want:       true,
			wantSource: SourceEnv,
		},
		{
			name:       "IntConverted",
			env:        map[string]string{"JOB": " 42 "},
			kind:       KindInt,
			def:        1,
			want:       42,
			wantSource: SourceEnv,
		},
		{
			name:       "FloatConverted",
			env:        map[string]string{"JOB": "0.25"},
			kind:       KindFloat,
			want:       0.25,
			wantSource: SourceEnv,
		},
		{
			name:       "StructuredConverted",
			env:        map[string]string{"JOB": `{"ranks":[0,1]}`},
			kind:       KindStructured,
			want:       map[string]any{"ranks": []any{0.0, 1.0}},
			wantSource: SourceEnv,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ns := newTestNamespace(t, tc.env)
			if err := ns.Register(Setting{Name: "value", Kind: tc.kind, Default: tc.def, Env: "JOB"}); err != nil {
				t.Fatalf("Register returned error: %v", err)
			}

			got, err := ns.Get("value")
			if err != nil {
				t.Fatalf("Get returned error: %v", err)
			}
			if !equalValues(got, tc.want) {
				t.Fatalf("expected %#v, got %#v", tc.want, got)
			}

			prov, err := ns.Provenance("value")
			if err != nil {
				t.Fatalf("Provenance returned error: %v", err)
			}
			if prov.Source != tc.wantSource || prov.Initial != tc.wantSource {
				t.Fatalf("expected source %s, got %s/%s", tc.wantSource, prov.Source, prov.Initial)
			}
			if prov.Env != "JOB" {
				t.Fatalf("expected provenance to record env var, got %q", prov.Env)
			}
		})
	}
}

func TestRegisterReadsProcessEnvironmentOnce(t *testing.T) {
	t.Setenv("CONFREG_TEST_JOB_ID", "first")

	reg := New()
	ns := reg.MustNamespace("compiler")
	ns.MustRegister(Setting{Name: "job_id", Kind: KindOptionalString, Env: "CONFREG_TEST_JOB_ID"})

	t.Setenv("CONFREG_TEST_JOB_ID", "second")

	got, ok, err := ns.OptionalString("job_id")
	if err != nil || !ok || got != "first" {
		t.Fatalf("expected value resolved at registration, got %q ok=%v err=%v", got, ok, err)
	}
	prov, _ := ns.Provenance("job_id")
	if prov.EnvValue != "first" {
		t.Fatalf("expected provenance to keep registration-time env value, got %q", prov.EnvValue)
	}
}

func TestExplicitValueOutranksEnvironment(t *testing.T) {
	ns := newTestNamespace(t, map[string]string{"LEVEL": "9"})
	ns.MustRegister(Setting{Name: "level", Kind: KindInt, Default: 1, Value: 5, Env: "LEVEL"})

	if got, _ := ns.Int("level"); got != 5 {
		t.Fatalf("expected explicit value 5, got %d", got)
	}
	prov, _ := ns.Provenance("level")
	if prov.Source != SourceExplicit || !prov.EnvPresent {
		t.Fatalf("unexpected provenance: %+v", prov)
	}
}

func TestRegisterErrors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		ns := newTestNamespace(t, nil)
		ns.MustRegister(Setting{Name: "foo", Kind: KindBool})
		err := ns.Register(Setting{Name: "foo", Kind: KindString})
		if !errors.Is(err, ErrDuplicateSetting) || KindOf(err) != KindDuplicateSetting {
			t.Fatalf("expected ErrDuplicateSetting, got %v", err)
		}
		if got, _ := ns.Get("foo"); got != false {
			t.Fatalf("expected original registration to survive, got %v", got)
		}
	})

	t.Run("unsupported kind", func(t *testing.T) {
		ns := newTestNamespace(t, nil)
		if err := ns.Register(Setting{Name: "foo", Kind: Kind(99)}); !errors.Is(err, ErrUnsupportedType) {
			t.Fatalf("expected ErrUnsupportedType, got %v", err)
		}
	})

	t.Run("default of wrong shape", func(t *testing.T) {
		ns := newTestNamespace(t, nil)
		if err := ns.Register(Setting{Name: "foo", Kind: KindString, Default: 3}); !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("expected ErrTypeMismatch, got %v", err)
		}
		if ns.Has("foo") {
			t.Fatalf("expected failed registration to leave namespace untouched")
		}
	})

	t.Run("unparsable environment", func(t *testing.T) {
		ns := newTestNamespace(t, map[string]string{"LEVEL": "high"})
		err := ns.Register(Setting{Name: "level", Kind: KindInt, Env: "LEVEL"})
		if !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("expected ErrTypeMismatch, got %v", err)
		}
		if !strings.Contains(err.Error(), "LEVEL") {
			t.Fatalf("expected error to name the variable, got %v", err)
		}
	})
}

func TestSetEnforcesDeclaredType(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "name", Kind: KindString, Default: "a"})

	err := ns.Set("name", 7)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if got, _ := ns.String("name"); got != "a" {
		t.Fatalf("expected stored value to be unchanged, got %q", got)
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Namespace != "compiler" || cfgErr.Setting != "name" {
		t.Fatalf("expected error to identify compiler.name, got %+v", cfgErr)
	}
	if !strings.Contains(err.Error(), "compiler.name") {
		t.Fatalf("expected message to include qualified name, got %q", err.Error())
	}
}

func TestSetAcceptsIntegerWidths(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "limit", Kind: KindInt, Default: 8})

	for _, v := range []any{int8(1), int32(2), int64(3), uint16(4), uint64(5)} {
		if err := ns.Set("limit", v); err != nil {
			t.Fatalf("Set(%T) returned error: %v", v, err)
		}
	}
	if got, _ := ns.Int("limit"); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if err := ns.Set("limit", 1.5); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected float to be rejected, got %v", err)
	}
}

func TestSetImmutable(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "cache_size_limit", Kind: KindInt, Default: 8, ReadOnly: true})

	if err := ns.Set("cache_size_limit", 16); !errors.Is(err, ErrImmutableSetting) {
		t.Fatalf("expected ErrImmutableSetting, got %v", err)
	}
	if got, _ := ns.Int("cache_size_limit"); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
}

func TestOptionalStringValues(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "job_id", Kind: KindOptionalString})

	if _, ok, _ := ns.OptionalString("job_id"); ok {
		t.Fatalf("expected job_id to start unset")
	}

	id := "job-42"
	if err := ns.Set("job_id", &id); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	id = "mutated"
	if got, ok, _ := ns.OptionalString("job_id"); !ok || got != "job-42" {
		t.Fatalf("expected job-42, got %q ok=%v", got, ok)
	}

	if err := ns.Set("job_id", nil); err != nil {
		t.Fatalf("Set(nil) returned error: %v", err)
	}
	if _, ok, _ := ns.OptionalString("job_id"); ok {
		t.Fatalf("expected job_id to be unset again")
	}
}

func TestStructuredValuesAreCopied(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "options", Kind: KindStructured, Default: map[string]any{"mode": "max"}})

	v, err := ns.Structured("options")
	if err != nil {
		t.Fatalf("Structured returned error: %v", err)
	}
	v.(map[string]any)["mode"] = "changed"

	again, _ := ns.Structured("options")
	if again.(map[string]any)["mode"] != "max" {
		t.Fatalf("expected reads to return copies, got %v", again)
	}
}

func TestGetUnknownSetting(t *testing.T) {
	ns := newTestNamespace(t, nil)
	if _, err := ns.Get("missing"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected ErrUnknownSetting, got %v", err)
	}
	if _, err := Value[int](ns, "missing"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected ErrUnknownSetting, got %v", err)
	}
}

func TestValueRejectsWrongRequestedType(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "name", Kind: KindString})

	if _, err := Value[int](ns, "name"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestResetRestoresRegistrationValue(t *testing.T) {
	ns := newTestNamespace(t, map[string]string{"LEVEL": "4"})
	ns.MustRegister(Setting{Name: "level", Kind: KindInt, Env: "LEVEL"})

	if err := ns.Set("level", 10); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := ns.Reset("level"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	prov, _ := ns.Provenance("level")
	if got, _ := ns.Int("level"); got != 4 || prov.Source != SourceEnv {
		t.Fatalf("expected 4 from environment, got %d from %s", got, prov.Source)
	}
}

func TestRegistryNamespaces(t *testing.T) {
	reg := New()
	reg.MustNamespace("dynamo")
	reg.MustNamespace("compiler")

	if _, err := reg.NewNamespace("compiler"); !errors.Is(err, ErrDuplicateNamespace) {
		t.Fatalf("expected ErrDuplicateNamespace, got %v", err)
	}
	if _, err := reg.NewNamespace("bad.name"); err == nil {
		t.Fatalf("expected error for dotted namespace name")
	}
	if _, err := reg.Namespace("inductor"); !errors.Is(err, ErrUnknownNamespace) {
		t.Fatalf("expected ErrUnknownNamespace, got %v", err)
	}
	if got := reg.Namespaces(); len(got) != 2 || got[0] != "compiler" || got[1] != "dynamo" {
		t.Fatalf("unexpected namespaces %v", got)
	}
}

func TestRegistryQualifiedAccess(t *testing.T) {
	reg := New()
	ns := reg.MustNamespace("compiler")
	ns.MustRegister(Setting{Name: "job_id", Kind: KindOptionalString})

	if err := reg.Set("compiler.job_id", "job-1"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err := reg.Get("compiler.job_id")
	if err != nil || got != "job-1" {
		t.Fatalf("expected job-1, got %v (err %v)", got, err)
	}
	if _, err := reg.Get("job_id"); !errors.Is(err, ErrUnknownSetting) {
		t.Fatalf("expected ErrUnknownSetting for unqualified name, got %v", err)
	}
	if _, err := reg.Get("inductor.x"); !errors.Is(err, ErrUnknownNamespace) {
		t.Fatalf("expected ErrUnknownNamespace, got %v", err)
	}
}

func TestProvenanceString(t *testing.T) {
	ns := newTestNamespace(t, map[string]string{"TORCH_COMPILE_JOB_ID": "job-9"})
	ns.MustRegister(Setting{Name: "job_id", Kind: KindOptionalString, Env: "TORCH_COMPILE_JOB_ID"})

	prov, err := ns.Provenance("job_id")
	if err != nil {
		t.Fatalf("Provenance returned error: %v", err)
	}
	want := `compiler.job_id: environment, environment variable TORCH_COMPILE_JOB_ID="job-9", default <unset>`
	if got := prov.String(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSetDecodedAcceptsTextCodecNumbers(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "limit", Kind: KindInt, Default: 8})
	ns.MustRegister(Setting{Name: "ratio", Kind: KindFloat, Default: 0.5})
	ns.MustRegister(Setting{Name: "frozen", Kind: KindInt, ReadOnly: true})

	if err := ns.SetDecoded("limit", 16.0); err != nil {
		t.Fatalf("SetDecoded returned error: %v", err)
	}
	if got, _ := ns.Int("limit"); got != 16 {
		t.Fatalf("expected limit 16, got %d", got)
	}
	if err := ns.SetDecoded("limit", 1.5); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for fractional value, got %v", err)
	}
	if err := ns.SetDecoded("ratio", 2); err != nil {
		t.Fatalf("SetDecoded returned error: %v", err)
	}
	if got, _ := ns.Float("ratio"); got != 2.0 {
		t.Fatalf("expected ratio 2.0, got %v", got)
	}
	if err := ns.SetDecoded("frozen", 1.0); !errors.Is(err, ErrImmutableSetting) {
		t.Fatalf("expected ErrImmutableSetting, got %v", err)
	}
	prov, _ := ns.Provenance("limit")
	if prov.Source != SourceRuntime {
		t.Fatalf("expected runtime source, got %s", prov.Source)
	}
}

func TestNonFiniteFloatsRejected(t *testing.T) {
	ns := newTestNamespace(t, map[string]string{"RATIO_NAN": "NaN", "RATIO_INF": "-Inf"})
	ns.MustRegister(Setting{Name: "ratio", Kind: KindFloat, Default: 0.5})

	for _, v := range []any{math.Inf(1), math.NaN(), float32(math.Inf(-1))} {
		if err := ns.Set("ratio", v); !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("Set(%v): expected ErrTypeMismatch, got %v", v, err)
		}
	}
	if got, _ := ns.Float("ratio"); got != 0.5 {
		t.Fatalf("expected rejected writes to keep 0.5, got %v", got)
	}

	tests := []struct {
		name    string
		setting Setting
	}{
		{name: "NaNDefault", setting: Setting{Name: "frozen", Kind: KindFloat, Default: math.NaN(), ReadOnly: true}},
		{name: "NaNEnv", setting: Setting{Name: "from_nan", Kind: KindFloat, Env: "RATIO_NAN"}},
		{name: "InfEnv", setting: Setting{Name: "from_inf", Kind: KindFloat, Env: "RATIO_INF"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ns.Register(tc.setting); !errors.Is(err, ErrTypeMismatch) {
				t.Fatalf("expected ErrTypeMismatch, got %v", err)
			}
		})
	}

	if err := ns.SetDecoded("ratio", json.Number("1e400")); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for out-of-range number, got %v", err)
	}
	if _, err := json.Marshal(ns.Save()); err != nil {
		t.Fatalf("snapshot is not JSON-encodable: %v", err)
	}
}

func TestSetDecodedAcceptsJSONNumbers(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ns.MustRegister(Setting{Name: "limit", Kind: KindInt})
	ns.MustRegister(Setting{Name: "name", Kind: KindString})

	if err := ns.SetDecoded("limit", json.Number("9007199254740993")); err != nil {
		t.Fatalf("SetDecoded returned error: %v", err)
	}
	if got, _ := ns.Int("limit"); got != 9007199254740993 {
		t.Fatalf("expected exact integer, got %d", got)
	}
	if err := ns.SetDecoded("limit", json.Number("2.5")); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for fractional number, got %v", err)
	}
	if err := ns.SetDecoded("name", json.Number("7")); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for number into string, got %v", err)
	}
}
