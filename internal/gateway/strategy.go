package gateway

// Strategy describes how one platform reports its default route.
type Strategy interface {
	// Platform names the OS family the strategy serves.
	Platform() string
	// Command returns the read-only introspection command to run.
	Command() (name string, args []string)
	// Parse extracts the gateway from the command output.
	Parse(output string) (string, bool)
}

type commandStrategy struct {
	platform string
	name     string
	args     []string
	markers  []string
}

func (s commandStrategy) Platform() string {
	return s.platform
}

func (s commandStrategy) Command() (string, []string) {
	return s.name, append([]string(nil), s.args...)
}

func (s commandStrategy) Parse(output string) (string, bool) {
	return parse(output, s.markers)
}

var (
	ipconfigStrategy = commandStrategy{
		platform: "windows",
		name:     "ipconfig",
		markers:  []string{MarkerDefaultGateway},
	}
	ipRouteStrategy = commandStrategy{
		platform: "linux",
		name:     "ip",
		args:     []string{"route", "show", "default"},
		markers:  []string{MarkerVia},
	}
	routeGetStrategy = commandStrategy{
		platform: "bsd",
		name:     "route",
		args:     []string{"-n", "get", "default"},
		markers:  []string{MarkerGateway},
	}
)

// strategies maps GOOS values to their discovery strategy.
var strategies = map[string]Strategy{
	"windows": ipconfigStrategy,
	"linux":   ipRouteStrategy,
	"darwin":  routeGetStrategy,
	"freebsd": routeGetStrategy,
	"openbsd": routeGetStrategy,
	"netbsd":  routeGetStrategy,
}

// StrategyFor returns the strategy registered for goos.
func StrategyFor(goos string) (Strategy, bool) {
	s, ok := strategies[goos]
	return s, ok
}
