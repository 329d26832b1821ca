// Package reflection is a producer-side reflection helper: it lists the
// method descriptors a Server was constructed with, without ever parsing
// a .proto file itself. A caller wanting to expose this over the wire
// registers it as an ordinary unary/server-stream method against its own
// Server.
package reflection

import (
	"sort"

	"github.com/sadopc/rpccore"
)

// ServiceInfo describes one registered service and the methods a Server
// will dispatch for it.
type ServiceInfo struct {
	Name    string
	Methods []MethodInfo
}

// MethodInfo describes a single registered method's call shape. There is
// no InputType/OutputType here: rpccore never holds a parsed message
// descriptor, only the Req/Resp Go types erased behind a Serializer, so
// the shape it can report is the RPC kind alone.
type MethodInfo struct {
	Name           string
	FullName       string
	IsClientStream bool
	IsServerStream bool
}

// Lister is satisfied by *rpccore.Server. It is a narrow interface so this
// package never needs to import the registration machinery itself.
type Lister interface {
	RegisteredMethods() []rpccore.MethodDescriptor
}

// Describe lists every service registered on l, grouping its methods by
// service name and sorting each group for stable output.
func Describe(l Lister) []ServiceInfo {
	byService := make(map[string][]MethodInfo)

	for _, d := range l.RegisteredMethods() {
		svc := d.Service()
		byService[svc] = append(byService[svc], MethodInfo{
			Name:           d.Method(),
			FullName:       d.FullMethod,
			IsClientStream: d.Kind.StreamsRequests(),
			IsServerStream: d.Kind.StreamsResponses(),
		})
	}

	services := make([]ServiceInfo, 0, len(byService))
	for name, methods := range byService {
		sort.Slice(methods, func(i, j int) bool { return methods[i].Name < methods[j].Name })
		services = append(services, ServiceInfo{Name: name, Methods: methods})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services
}
