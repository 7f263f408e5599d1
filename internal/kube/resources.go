package kube

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const (
	managedBy = "ruben"

	labelManagedBy = "app.kubernetes.io/managed-by"
	labelName      = "app.kubernetes.io/name"
	labelInstance  = "app.kubernetes.io/instance"
	// annotationEngine keeps the unsanitized engine name.
	annotationEngine = "ruben.io/engine"
)

func labels(name string) map[string]string {
	return map[string]string{
		labelManagedBy: managedBy,
		labelName:      "engine-server",
		labelInstance:  name,
	}
}

// BuildDeployment creates a single replica Deployment running the engine
// server.
func BuildDeployment(spec ServerSpec, namespace string) *appsv1.Deployment {
	name := sanitizeName(spec.Engine)
	replicas := int32(1)

	env := make([]corev1.EnvVar, 0, len(spec.Env))
	for _, k := range slices.Sorted(maps.Keys(spec.Env)) {
		env = append(env, corev1.EnvVar{Name: k, Value: spec.Env[k]})
	}

	container := corev1.Container{
		Name:  "engine",
		Image: spec.Image,
		Args:  spec.Args,
		Env:   env,
		Ports: []corev1.ContainerPort{{Name: "engine", ContainerPort: spec.Port}},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(spec.Port)},
			},
			PeriodSeconds: 2,
		},
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      labels(name),
			Annotations: map[string]string{annotationEngine: spec.Engine},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{labelInstance: name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels(name)},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{container}},
			},
		},
	}
}

// BuildService exposes the engine server inside the cluster.
func BuildService(spec ServerSpec, namespace string) *corev1.Service {
	name := sanitizeName(spec.Engine)
	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      labels(name),
			Annotations: map[string]string{annotationEngine: spec.Engine},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{labelInstance: name},
			Ports: []corev1.ServicePort{{
				Name:       "engine",
				Port:       spec.Port,
				TargetPort: intstr.FromInt32(spec.Port),
			}},
		},
	}
}

func toUnstructured(obj any) (*unstructured.Unstructured, error) {
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to unstructured: %w", err)
	}
	return &unstructured.Unstructured{Object: m}, nil
}

func deploymentFrom(obj *unstructured.Unstructured) (*appsv1.Deployment, error) {
	d := &appsv1.Deployment{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, d); err != nil {
		return nil, fmt.Errorf("failed to convert unstructured to Deployment: %w", err)
	}
	return d, nil
}

// isAvailable reports whether the Deployment has all replicas ready.
func isAvailable(d *appsv1.Deployment) bool {
	want := int32(1)
	if d.Spec.Replicas != nil {
		want = *d.Spec.Replicas
	}
	if d.Status.ReadyReplicas >= want && want > 0 {
		return true
	}
	for _, c := range d.Status.Conditions {
		if c.Type == appsv1.DeploymentAvailable && c.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// sanitizeName converts an engine name to a valid Kubernetes resource name.
func sanitizeName(name string) string {
	result := make([]byte, 0, len(name)+len("ruben-"))
	result = append(result, "ruben-"...)
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			result = append(result, byte(c))
		case c >= 'A' && c <= 'Z':
			result = append(result, byte(c-'A'+'a'))
		case c == '_', c == '.', c == '/', c == ' ':
			result = append(result, '-')
		}
	}
	if len(result) > 63 {
		result = result[:63]
	}
	return strings.TrimRight(string(result), "-")
}

// Endpoint returns the in-cluster host:port of an engine server.
func Endpoint(engine, namespace string, port int32) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local:%d", sanitizeName(engine), namespace, port)
}
