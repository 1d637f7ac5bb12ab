package engine

import (
	"testing"

	"github.com/nvhide/nvhide/pkg/discover"
)

func activeState() *State {
	return &State{
		Active: true,
		Devices: &discover.Devices{
			Nodes:    []string{"card1", "renderD129"},
			BusAddrs: []string{"0000:01:00.0"},
		},
	}
}

func TestDenyPathDeviceNodes(t *testing.T) {
	st := activeState()

	for _, p := range []string{
		"/dev/nvidia0",
		"/dev/nvidiactl",
		"/dev/nvidia-uvm",
		"/dev/dri/card1",
		"/dev/dri/renderD129",
	} {
		if !st.DenyPath(p) {
			t.Errorf("%s should be denied", p)
		}
	}

	for _, p := range []string{
		"/dev/dri/renderD999", // not discovered
		"/dev/dri/card0",
		"/dev/null",
		"/etc/passwd",
	} {
		if st.DenyPath(p) {
			t.Errorf("%s should pass through", p)
		}
	}
}

func TestDenyPathVendorAssets(t *testing.T) {
	st := activeState()

	for _, p := range []string{
		"/usr/lib/x86_64-linux-gnu/gbm/nvidia-drm_gbm.so",
		"/usr/lib/libGLX_nvidia.so.0",
		"/usr/share/vulkan/implicit_layer.d/nvidia_layers.json",
		"/usr/share/vulkan/icd.d/nvidia_icd.json",
		"/usr/lib/libnvidia-ml.so.1",
	} {
		if !st.DenyPath(p) {
			t.Errorf("%s should be denied", p)
		}
	}

	if st.DenyPath("/usr/share/vulkan/icd.d/intel_icd.x86_64.json") {
		t.Error("other vendors' ICDs should pass through")
	}
}

func TestDenyPathPCIConfig(t *testing.T) {
	st := activeState()

	for _, p := range []string{
		"/sys/bus/pci/devices/0000:01:00.0/config",
		"/sys/devices/pci0000:00/0000:00:01.0/0000:01:00.0/config",
	} {
		if !st.DenyPath(p) {
			t.Errorf("%s should be denied", p)
		}
	}

	if st.DenyPath("/sys/bus/pci/devices/0000:00:02.0/config") {
		t.Error("config of an undiscovered BDF should pass through")
	}
	if st.DenyPath("/sys/bus/pci/devices/0000:01:00.0/vendor") {
		t.Error("non-config attributes should pass through")
	}
}

func TestDenyPathInactive(t *testing.T) {
	st := activeState()
	st.Active = false
	if st.DenyPath("/dev/nvidia0") {
		t.Error("inactive state must never deny")
	}
}

func TestDenyDirent(t *testing.T) {
	st := activeState()

	for _, name := range []string{
		"nvidia0",
		"nvidiactl",
		"card1",
		"renderD129",
		"pci-0000:01:00.0-card",
		"pci-01:00.0-render", // domain prefix stripped
	} {
		if !st.DenyDirent(name) {
			t.Errorf("entry %q should be skipped", name)
		}
	}

	for _, name := range []string{
		"card0",
		"renderD128",
		"pci-0000:00:02.0-card",
		"by-path",
		".",
		"..",
	} {
		if st.DenyDirent(name) {
			t.Errorf("entry %q should be kept", name)
		}
	}
}

func TestDenyModule(t *testing.T) {
	st := activeState()

	for _, name := range []string{
		"libnvidia-ml.so.1",
		"libGLX_nvidia.so.0",
		"nvidia-drm_gbm.so",
		"/usr/lib/libnvidia-glcore.so",
	} {
		if !st.DenyModule(name) {
			t.Errorf("module %q should be denied", name)
		}
	}

	for _, name := range []string{
		"libc.so.6",
		"libvulkan.so.1",
		"",
	} {
		if st.DenyModule(name) {
			t.Errorf("module %q should load", name)
		}
	}
}

func TestDenyModuleInactive(t *testing.T) {
	st := activeState()
	st.Active = false
	if st.DenyModule("libnvidia-ml.so.1") {
		t.Error("inactive state must never deny")
	}
}
