// Package compilercfg declares the compiler's configuration namespaces: the
// top-level "compiler" namespace with cross-cutting options, and the
// per-subsystem "dynamo" namespace.
package compilercfg

import (
	"fmt"

	"github.com/eugenenazirov/confreg/internal/registry"
)

const (
	// CompilerNamespace is the top-level namespace.
	CompilerNamespace = "compiler"
	// DynamoNamespace holds tracing front-end options.
	DynamoNamespace = "dynamo"

	// JobIDEnv supplies the default job identifier.
	JobIDEnv = "TORCH_COMPILE_JOB_ID"

	SettingJobID                     = "job_id"
	SettingEnableCompilerCollectives = "enable_compiler_collectives"
	SettingAutomaticDynamicLocalPGO  = "automatic_dynamic_local_pgo"
	SettingCacheSizeLimit            = "cache_size_limit"
)

// compilerDecl declares the compiler namespace.
type compilerDecl struct {
	// JobID identifies one workload, not one attempt of it. Invocations that
	// share a non-empty job id are asserted by the caller to run the same
	// code on the same distributed topology, possibly restarted after
	// preemption, and may therefore share persisted profiling state. Without
	// a job id, profile-guided persistence is disabled even when enabled
	// elsewhere. Profiles are per rank unless compiler collectives are on.
	JobID *string `config:"job_id" env:"TORCH_COMPILE_JOB_ID" doc:"Identifier of the workload; gates reuse of persisted profile-guided state."`
}

type dynamoDecl struct {
	EnableCompilerCollectives bool `env:"TORCH_DYNAMO_ENABLE_COMPILER_COLLECTIVES" doc:"Exchange profiles across ranks so every rank compiles the same graphs."`
	AutomaticDynamicLocalPGO  bool `config:"automatic_dynamic_local_pgo" env:"TORCH_DYNAMO_AUTOMATIC_DYNAMIC_LOCAL_PGO" doc:"Persist automatic-dynamic decisions locally between runs."`
	CacheSizeLimit            int  `config:"cache_size_limit,readonly" doc:"Maximum recompilations per code object."`
}

func defaultDynamo() dynamoDecl {
	return dynamoDecl{
		EnableCompilerCollectives: false,
		AutomaticDynamicLocalPGO:  true,
		CacheSizeLimit:            8,
	}
}

// Compiler is a typed handle over the compiler namespace.
type Compiler struct {
	ns *registry.Namespace
}

// Register creates and declares the compiler namespace.
func Register(reg *registry.Registry) (*Compiler, error) {
	ns, err := reg.NewNamespace(CompilerNamespace)
	if err != nil {
		return nil, err
	}
	if err := registry.RegisterStruct(ns, compilerDecl{}); err != nil {
		return nil, fmt.Errorf("declare %s: %w", CompilerNamespace, err)
	}
	return &Compiler{ns: ns}, nil
}

// Namespace returns the underlying namespace.
func (c *Compiler) Namespace() *registry.Namespace {
	return c.ns
}

// JobID returns the current job identifier. ok is false when it is unset
// or empty; callers must treat both the same way.
func (c *Compiler) JobID() (id string, ok bool) {
	v, set, err := c.ns.OptionalString(SettingJobID)
	if err != nil || !set || v == "" {
		return "", false
	}
	return v, true
}

// SetJobID sets the job identifier. It takes effect for every subsequent
// cache-key computation.
func (c *Compiler) SetJobID(id string) error {
	return c.ns.Set(SettingJobID, id)
}

// ClearJobID unsets the job identifier.
func (c *Compiler) ClearJobID() error {
	return c.ns.Set(SettingJobID, nil)
}

// Dynamo is a typed handle over the dynamo namespace.
type Dynamo struct {
	ns *registry.Namespace
}

// RegisterDynamo creates and declares the dynamo namespace.
func RegisterDynamo(reg *registry.Registry) (*Dynamo, error) {
	ns, err := reg.NewNamespace(DynamoNamespace)
	if err != nil {
		return nil, err
	}
	if err := registry.RegisterStruct(ns, defaultDynamo()); err != nil {
		return nil, fmt.Errorf("declare %s: %w", DynamoNamespace, err)
	}
	return &Dynamo{ns: ns}, nil
}

// Namespace returns the underlying namespace.
func (d *Dynamo) Namespace() *registry.Namespace {
	return d.ns
}

// CompilerCollectives reports whether ranks share one profile.
func (d *Dynamo) CompilerCollectives() bool {
	v, err := d.ns.Bool(SettingEnableCompilerCollectives)
	return err == nil && v
}

// LocalPGO reports whether local profile persistence is enabled.
func (d *Dynamo) LocalPGO() bool {
	v, err := d.ns.Bool(SettingAutomaticDynamicLocalPGO)
	return err == nil && v
}

// CacheSizeLimit returns the recompilation limit.
func (d *Dynamo) CacheSizeLimit() int {
	v, _ := d.ns.Int(SettingCacheSizeLimit)
	return v
}

// Namespaces bundles every namespace this package declares.
type Namespaces struct {
	Compiler *Compiler
	Dynamo   *Dynamo
}

// RegisterAll declares the compiler and dynamo namespaces.
func RegisterAll(reg *registry.Registry) (*Namespaces, error) {
	compiler, err := Register(reg)
	if err != nil {
		return nil, err
	}
	dynamo, err := RegisterDynamo(reg)
	if err != nil {
		return nil, err
	}
	return &Namespaces{Compiler: compiler, Dynamo: dynamo}, nil
}
