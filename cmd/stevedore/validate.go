package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opskit/stevedore/pkg/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology manifest",
	Long: `Parse the topology manifest and report the rollout plan without
touching any host: service start order, networks, volumes, and probes.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringP("source", "s", ".", "Local working tree")
	validateCmd.Flags().StringP("manifest", "f", "deploy.yml", "Topology manifest, relative to the source dir")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	sourceDir, _ := cmd.Flags().GetString("source")
	manifest, _ := cmd.Flags().GetString("manifest")

	topo, err := loadTopology(sourceDir, manifest)
	if err != nil {
		return err
	}

	fmt.Printf("Manifest OK: %d services\n\n", len(topo.Services))
	fmt.Println("Start order:")
	for i, svc := range topo.Services {
		fmt.Printf("  %d. %s", i+1, svc.Name)
		if len(svc.DependsOn) > 0 {
			var deps []string
			for _, dep := range svc.DependsOn {
				deps = append(deps, dep.Service)
			}
			fmt.Printf("  (after %s)", strings.Join(deps, ", "))
		}
		if svc.HealthCheck != nil {
			fmt.Printf("  [%s probe]", svc.HealthCheck.Type)
		}
		fmt.Println()
	}

	if len(topo.Networks) > 0 {
		fmt.Println("\nNetworks:")
		for name := range topo.Networks {
			fmt.Printf("  %s\n", name)
		}
	}
	if len(topo.Volumes) > 0 {
		fmt.Println("\nVolumes:")
		for name := range topo.Volumes {
			fmt.Printf("  %s\n", name)
		}
	}

	warnMissingProbes(topo)
	return nil
}

func warnMissingProbes(topo *types.Topology) {
	var unprobed []string
	for _, svc := range topo.Services {
		if svc.HealthCheck == nil {
			unprobed = append(unprobed, svc.Name)
		}
	}
	if len(unprobed) > 0 {
		fmt.Printf("\nWarning: no readiness probe for %s; these services are\n", strings.Join(unprobed, ", "))
		fmt.Println("started but never verified healthy.")
	}
}
