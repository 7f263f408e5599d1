package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kev-ang/ruben/internal/config"
	"github.com/kev-ang/ruben/internal/kube"
)

// newProvisionerFromFlags connects to the cluster named by the kubeconfig
// and namespace flags, or to the cluster the process runs in.
func newProvisionerFromFlags(cmd *cobra.Command, inCluster bool) (*kube.Provisioner, error) {
	namespace, _ := cmd.Flags().GetString("namespace")
	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")
	return kube.NewProvisioner(namespace, kubeconfig, inCluster)
}

// needsServers reports whether any engine of cfg asks for a deployed server.
func needsServers(cfg *config.Benchmark) bool {
	for _, e := range cfg.Engines {
		if e.Server != nil {
			return true
		}
	}
	return false
}
