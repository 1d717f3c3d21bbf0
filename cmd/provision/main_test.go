package main

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/ratnathegod/cloud-cost-router/internal/provision"
)

func planFor(t *testing.T, args ...string) provision.Plan {
	t.Helper()
	t.Setenv("AWS_REGION", provision.DefaultRegion)

	var plan provision.Plan
	app := newApp()
	app.Action = func(c *cli.Context) error {
		plan = planFromContext(c)
		return nil
	}
	if err := app.Run(append([]string{"provision"}, args...)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return plan
}

func TestPlanFromContextDefaults(t *testing.T) {
	got := planFor(t)
	if want := provision.DefaultPlan("dist"); !reflect.DeepEqual(got, want) {
		t.Errorf("expected default plan %+v, got %+v", want, got)
	}
}

func TestPlanFromContextOverrides(t *testing.T) {
	got := planFor(t, "--azure-function", "x", "-a", "build", "--bucket", "artifacts-eu", "--region", "eu-west-1")

	if got.Region != "eu-west-1" {
		t.Errorf("expected region eu-west-1, got %q", got.Region)
	}
	if got.Bucket != "artifacts-eu" {
		t.Errorf("expected bucket artifacts-eu, got %q", got.Bucket)
	}
	if got.RoleName != provision.DefaultRoleName {
		t.Errorf("expected default role, got %q", got.RoleName)
	}
	want := []provision.Function{
		{Name: provision.DefaultAWSFunction, Artifact: filepath.Join("build", provision.DefaultAWSFunction+".zip")},
		{Name: "x", Artifact: filepath.Join("build", "x.zip")},
	}
	if !reflect.DeepEqual(got.Functions, want) {
		t.Errorf("expected functions %+v, got %+v", want, got.Functions)
	}
}
