package k8sbackend

import "fmt"

func replicaSetsListURL(apiVersion, managedBy string) string {
	return fmt.Sprintf("/apis/%s/replicasets?labelSelector=%s=%s", apiVersion, managedByLabel, managedBy)
}

func replicaSetsWatchURL(apiVersion, managedBy, resourceVersion string) string {
	return fmt.Sprintf("/apis/%s/replicasets?labelSelector=%s=%s&watch=true&resourceVersion=%s", apiVersion, managedByLabel, managedBy, resourceVersion)
}

func podsListURL(managedBy string) string {
	return fmt.Sprintf("/api/v1/pods?labelSelector=%s=%s", managedByLabel, managedBy)
}

func podsWatchURL(managedBy, resourceVersion string) string {
	return fmt.Sprintf("/api/v1/pods?labelSelector=%s=%s&watch=true&resourceVersion=%s", managedByLabel, managedBy, resourceVersion)
}

func replicaSetsCreateURL(apiVersion, namespace string) string {
	return fmt.Sprintf("/apis/%s/namespaces/%s/replicasets", apiVersion, namespace)
}

func replicaSetURL(apiVersion, namespace, name string) string {
	return fmt.Sprintf("/apis/%s/namespaces/%s/replicasets/%s", apiVersion, namespace, name)
}

func podURL(namespace, name string) string {
	return fmt.Sprintf("/api/v1/namespaces/%s/pods/%s", namespace, name)
}

const managedByLabel = "managed-by"
