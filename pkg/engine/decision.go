package engine

import "strings"

// Vendor-identifying module name fragments checked by the dynamic-load hook.
var moduleFragments = []string{
	"nvidia",
	"libGLX_nvidia",
	"nvidia-drm_gbm.so",
	"libnvidia-",
}

// Vendor graphics/compute/Vulkan asset paths denied on open.
var assetFragments = []string{
	"nvidia-drm_gbm.so",
	"libGLX_nvidia.so",
	"/usr/share/vulkan/implicit_layer.d/nvidia",
	"/usr/share/vulkan/icd.d/nvidia",
	"/usr/lib/libnvidia-",
}

// DenyPath reports whether an open of p must fail as if the target did not
// exist. Always false when hiding is inactive.
func (st *State) DenyPath(p string) bool {
	if !st.Active || p == "" {
		return false
	}

	if strings.HasPrefix(p, "/dev/nvidia") {
		return true
	}
	if rest, ok := strings.CutPrefix(p, "/dev/dri/"); ok && st.Devices.HasNode(rest) {
		return true
	}

	for _, frag := range assetFragments {
		if strings.Contains(p, frag) {
			return true
		}
	}

	// PCI configuration space reads anywhere under sysfs: .../<BDF>/config.
	if strings.Contains(p, "/sys/") && strings.Contains(p, "/config") {
		for _, bdf := range st.Devices.BusAddrs {
			if strings.Contains(p, "/"+bdf+"/config") {
				return true
			}
		}
	}

	return false
}

// DenyDirent reports whether a directory entry name must be skipped during
// enumeration.
func (st *State) DenyDirent(name string) bool {
	if !st.Active || name == "" {
		return false
	}

	if strings.HasPrefix(name, "nvidia") {
		return true
	}
	if st.Devices.HasNode(name) {
		return true
	}

	// by-path symlink names embed the BDF, with or without the numeric
	// domain prefix ("0000:01:00.0" vs "01:00.0").
	for _, bdf := range st.Devices.BusAddrs {
		if strings.Contains(name, bdf) {
			return true
		}
		if _, short, ok := strings.Cut(bdf, ":"); ok && strings.Contains(name, short) {
			return true
		}
	}

	return false
}

// DenyModule reports whether a dynamic-library-load request must fail as
// not found, by substring match against the vendor fragments.
func (st *State) DenyModule(name string) bool {
	if !st.Active || name == "" {
		return false
	}
	for _, frag := range moduleFragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}
