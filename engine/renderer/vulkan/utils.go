package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// check turns a native result into the error every Device call returns.
// gpu.Result shares the numbering of VkResult.
func check(res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	return gpu.Result(res)
}

// ResultIsSuccess reports whether res is a status code rather than an error.
func ResultIsSuccess(res vk.Result) bool {
	return gpu.Result(res).IsSuccess()
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// ToString reads a fixed-size, zero-terminated name field.
func ToString(arr []byte) string {
	return string(arr[:FindFirstZeroInByteArray(arr)])
}

func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}
