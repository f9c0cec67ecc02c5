package lease

// Factory selects a lease backend by name: plain shared filesystems, etcd
// clusters, or kubernetes namespaces.
type Factory struct {
	providers map[string]Lease
}

func NewFactory(stateDir string, etcdEndpoints []string, namespace string, config Config) *Factory {
	return &Factory{
		providers: map[string]Lease{
			"filesystem": NewFilesystem(stateDir, config),
			"etcd":       NewEtcd(etcdEndpoints, config),
			"kubernetes": NewKubernetes(namespace, config),
		},
	}
}

func (f Factory) Get(providerName string) Lease {
	return f.providers[providerName]
}
