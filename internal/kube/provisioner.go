// Package kube runs engine servers in a Kubernetes cluster for the duration
// of an engine's benchmark run.
package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	deploymentGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}
	serviceGVR    = schema.GroupVersionResource{Version: "v1", Resource: "services"}
)

const defaultReadyTimeout = 5 * time.Minute

// Provisioner deploys and tears down engine servers.
type Provisioner struct {
	client    dynamic.Interface
	namespace string
}

// NewProvisioner creates a provisioner from a kubeconfig or the in-cluster
// service account.
func NewProvisioner(namespace string, kubeconfig string, inCluster bool) (*Provisioner, error) {
	var config *rest.Config
	var err error

	if inCluster {
		config, err = rest.InClusterConfig()
	} else {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if kubeconfig != "" {
			loadingRules.ExplicitPath = kubeconfig
		}
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{},
		).ClientConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes config: %w", err)
	}

	client, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return NewProvisionerWithClient(client, namespace), nil
}

// NewProvisionerWithClient creates a Provisioner with an existing dynamic
// client.
func NewProvisionerWithClient(client dynamic.Interface, namespace string) *Provisioner {
	return &Provisioner{client: client, namespace: namespace}
}

// Namespace returns the namespace servers are deployed to.
func (p *Provisioner) Namespace() string { return p.namespace }

// Deploy creates the Deployment and Service of an engine server and waits
// until the server accepts connections.
func (p *Provisioner) Deploy(ctx context.Context, spec ServerSpec) (*ServerStatus, error) {
	if spec.Image == "" || spec.Port <= 0 {
		return nil, fmt.Errorf("server for %s needs an image and a port", spec.Engine)
	}

	deployment, err := toUnstructured(BuildDeployment(spec, p.namespace))
	if err != nil {
		return nil, err
	}
	service, err := toUnstructured(BuildService(spec, p.namespace))
	if err != nil {
		return nil, err
	}
	name := deployment.GetName()

	slog.Info("deploying engine server",
		"engine", spec.Engine,
		"name", name,
		"image", spec.Image,
		"port", spec.Port,
	)

	created, err := p.client.Resource(deploymentGVR).Namespace(p.namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Deployment %s: %w", name, err)
	}
	if _, err := p.client.Resource(serviceGVR).Namespace(p.namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil {
		return nil, fmt.Errorf("failed to create Service %s: %w", name, err)
	}

	if err := p.waitForReady(ctx, name, spec.ReadyTimeout); err != nil {
		return nil, fmt.Errorf("engine server %s not ready: %w", name, err)
	}

	return &ServerStatus{
		Name:      name,
		Engine:    spec.Engine,
		Ready:     true,
		Endpoint:  Endpoint(spec.Engine, p.namespace, spec.Port),
		CreatedAt: created.GetCreationTimestamp().Format(time.RFC3339),
	}, nil
}

// Teardown deletes the Service and Deployment of an engine server. Missing
// objects are ignored.
func (p *Provisioner) Teardown(ctx context.Context, engine string) error {
	name := sanitizeName(engine)
	slog.Info("tearing down engine server", "engine", engine, "name", name)

	propagation := metav1.DeletePropagationForeground
	opts := metav1.DeleteOptions{PropagationPolicy: &propagation}

	var errs []error
	for _, gvr := range []schema.GroupVersionResource{serviceGVR, deploymentGVR} {
		err := p.client.Resource(gvr).Namespace(p.namespace).Delete(ctx, name, opts)
		if err != nil && !apierrors.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("failed to delete %s %s: %w", gvr.Resource, name, err))
		}
	}
	return errors.Join(errs...)
}

// List returns the engine servers managed by ruben.
func (p *Provisioner) List(ctx context.Context) ([]ServerStatus, error) {
	list, err := p.client.Resource(deploymentGVR).Namespace(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelManagedBy + "=" + managedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list engine servers: %w", err)
	}

	statuses := make([]ServerStatus, 0, len(list.Items))
	for _, item := range list.Items {
		d, err := deploymentFrom(&item)
		if err != nil {
			slog.Warn("failed to convert Deployment", "name", item.GetName(), "error", err)
			continue
		}
		statuses = append(statuses, p.statusFrom(d.Name, d.Annotations[annotationEngine], isAvailable(d), d.CreationTimestamp, portOf(&item)))
	}
	return statuses, nil
}

// Get returns the status of the server of one engine.
func (p *Provisioner) Get(ctx context.Context, engine string) (*ServerStatus, error) {
	name := sanitizeName(engine)
	item, err := p.client.Resource(deploymentGVR).Namespace(p.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get engine server %s: %w", name, err)
	}
	d, err := deploymentFrom(item)
	if err != nil {
		return nil, err
	}
	status := p.statusFrom(d.Name, engine, isAvailable(d), d.CreationTimestamp, portOf(item))
	return &status, nil
}

func (p *Provisioner) statusFrom(name, engine string, ready bool, created metav1.Time, port int32) ServerStatus {
	status := ServerStatus{
		Name:      name,
		Engine:    engine,
		CreatedAt: created.Format(time.RFC3339),
	}
	if ready {
		status.Ready = true
		status.Endpoint = fmt.Sprintf("%s.%s.svc.cluster.local:%d", name, p.namespace, port)
	} else {
		status.Message = "pending"
	}
	return status
}

func portOf(obj *unstructured.Unstructured) int32 {
	containers, _, _ := unstructured.NestedSlice(obj.Object, "spec", "template", "spec", "containers")
	if len(containers) == 0 {
		return 0
	}
	c, ok := containers[0].(map[string]any)
	if !ok {
		return 0
	}
	ports, _, _ := unstructured.NestedSlice(c, "ports")
	if len(ports) == 0 {
		return 0
	}
	port, _, _ := unstructured.NestedInt64(ports[0].(map[string]any), "containerPort")
	return int32(port)
}

func (p *Provisioner) waitForReady(ctx context.Context, name string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watcher, err := p.client.Resource(deploymentGVR).Namespace(p.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + name,
	})
	if err != nil {
		return fmt.Errorf("failed to watch Deployment: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for Deployment %s to become available", name)
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed for Deployment %s", name)
			}
			if event.Type != watch.Added && event.Type != watch.Modified {
				continue
			}
			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				continue
			}
			d, err := deploymentFrom(obj)
			if err != nil {
				slog.Warn("failed to convert watch event", "error", err)
				continue
			}
			if isAvailable(d) {
				slog.Info("engine server ready", "name", name)
				return nil
			}
			slog.Debug("engine server not ready yet",
				"name", name,
				"ready_replicas", d.Status.ReadyReplicas,
			)
		}
	}
}
