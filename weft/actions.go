package weft

import "weft.sh/weft/core/workflow"

// BuiltinRegistry declares the input schemas of the actions the step
// runner implements host-side. Servers can register additional user
// actions on top.
func BuiltinRegistry() *workflow.Registry {
	reg := workflow.NewRegistry()

	builtins := []workflow.CompositeAction{
		{
			Name:    workflow.ActionCheckout,
			Builtin: true,
			Inputs: []workflow.InputSpec{
				{Name: "repo"},
				{Name: "sha"},
			},
		},
		{
			Name:    workflow.ActionCache,
			Builtin: true,
			Inputs: []workflow.InputSpec{
				{Name: "path", Required: true},
				{Name: "key", Required: true},
				{Name: "files"},
			},
		},
		{
			Name:    workflow.ActionUploadArtifact,
			Builtin: true,
			Inputs: []workflow.InputSpec{
				{Name: "name", Required: true},
				{Name: "path", Required: true},
			},
		},
		{
			Name:    workflow.ActionDownloadArtifact,
			Builtin: true,
			Inputs: []workflow.InputSpec{
				{Name: "name", Required: true},
				{Name: "path", Default: "."},
			},
		},
		{
			Name:    workflow.ActionDeploy,
			Builtin: true,
			Inputs: []workflow.InputSpec{
				{Name: "environment", Required: true},
				{Name: "artifact", Required: true},
			},
		},
		{
			Name:    workflow.ActionQualityGate,
			Builtin: true,
		},
	}

	for _, a := range builtins {
		// names are distinct constants, registration cannot collide
		_ = reg.Register(a)
	}

	return reg
}
