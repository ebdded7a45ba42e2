package gpu

import "fmt"

// Result mirrors the native result code. Negative values are errors. A Result
// is returned as an error by every failing Device call.
type Result int32

const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	EventSet                  Result = 3
	EventReset                Result = 4
	Incomplete                Result = 5
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorMemoryMapFailed      Result = -5
	ErrorLayerNotPresent      Result = -6
	ErrorExtensionNotPresent  Result = -7
	ErrorFeatureNotPresent    Result = -8
	ErrorIncompatibleDriver   Result = -9
	ErrorTooManyObjects       Result = -10
	ErrorFormatNotSupported   Result = -11
	ErrorFragmentedPool       Result = -12
	ErrorUnknown              Result = -13
	ErrorOutOfPoolMemory      Result = -1000069000
	ErrorFragmentation        Result = -1000161000
)

func (r Result) Error() string {
	return r.Describe(true)
}

func (r Result) String() string {
	return r.Describe(false)
}

// IsSuccess reports whether the code is one of the non-error status codes.
func (r Result) IsSuccess() bool {
	return r >= 0
}

// Describe returns the code name, optionally followed by its meaning.
func (r Result) Describe(extended bool) string {
	switch r {
	case Success:
		return conditionalOperator(!extended, "VK_SUCCESS", "VK_SUCCESS Command successfully completed")
	case NotReady:
		return conditionalOperator(!extended, "VK_NOT_READY", "VK_NOT_READY A fence or query has not yet completed")
	case Timeout:
		return conditionalOperator(!extended, "VK_TIMEOUT", "VK_TIMEOUT A wait operation has not completed in the specified time")
	case EventSet:
		return conditionalOperator(!extended, "VK_EVENT_SET", "VK_EVENT_SET An event is signaled")
	case EventReset:
		return conditionalOperator(!extended, "VK_EVENT_RESET", "VK_EVENT_RESET An event is unsignaled")
	case Incomplete:
		return conditionalOperator(!extended, "VK_INCOMPLETE", "VK_INCOMPLETE A return array was too small for the result")
	case ErrorOutOfHostMemory:
		return conditionalOperator(!extended, "VK_ERROR_OUT_OF_HOST_MEMORY", "VK_ERROR_OUT_OF_HOST_MEMORY A host memory allocation has failed.")
	case ErrorOutOfDeviceMemory:
		return conditionalOperator(!extended, "VK_ERROR_OUT_OF_DEVICE_MEMORY", "VK_ERROR_OUT_OF_DEVICE_MEMORY A device memory allocation has failed.")
	case ErrorInitializationFailed:
		return conditionalOperator(!extended, "VK_ERROR_INITIALIZATION_FAILED", "VK_ERROR_INITIALIZATION_FAILED Initialization of an object could not be completed for implementation-specific reasons.")
	case ErrorDeviceLost:
		return conditionalOperator(!extended, "VK_ERROR_DEVICE_LOST", "VK_ERROR_DEVICE_LOST The logical or physical device has been lost.")
	case ErrorMemoryMapFailed:
		return conditionalOperator(!extended, "VK_ERROR_MEMORY_MAP_FAILED", "VK_ERROR_MEMORY_MAP_FAILED Mapping of a memory object has failed.")
	case ErrorLayerNotPresent:
		return conditionalOperator(!extended, "VK_ERROR_LAYER_NOT_PRESENT", "VK_ERROR_LAYER_NOT_PRESENT A requested layer is not present or could not be loaded.")
	case ErrorExtensionNotPresent:
		return conditionalOperator(!extended, "VK_ERROR_EXTENSION_NOT_PRESENT", "VK_ERROR_EXTENSION_NOT_PRESENT A requested extension is not supported.")
	case ErrorFeatureNotPresent:
		return conditionalOperator(!extended, "VK_ERROR_FEATURE_NOT_PRESENT", "VK_ERROR_FEATURE_NOT_PRESENT A requested feature is not supported.")
	case ErrorIncompatibleDriver:
		return conditionalOperator(!extended, "VK_ERROR_INCOMPATIBLE_DRIVER", "VK_ERROR_INCOMPATIBLE_DRIVER The requested version of Vulkan is not supported by the driver.")
	case ErrorTooManyObjects:
		return conditionalOperator(!extended, "VK_ERROR_TOO_MANY_OBJECTS", "VK_ERROR_TOO_MANY_OBJECTS Too many objects of the type have already been created.")
	case ErrorFormatNotSupported:
		return conditionalOperator(!extended, "VK_ERROR_FORMAT_NOT_SUPPORTED", "VK_ERROR_FORMAT_NOT_SUPPORTED A requested format is not supported on this device.")
	case ErrorFragmentedPool:
		return conditionalOperator(!extended, "VK_ERROR_FRAGMENTED_POOL", "VK_ERROR_FRAGMENTED_POOL A pool allocation has failed due to fragmentation of the pool's memory.")
	case ErrorUnknown:
		return conditionalOperator(!extended, "VK_ERROR_UNKNOWN", "VK_ERROR_UNKNOWN An unknown error has occurred.")
	case ErrorOutOfPoolMemory:
		return conditionalOperator(!extended, "VK_ERROR_OUT_OF_POOL_MEMORY", "VK_ERROR_OUT_OF_POOL_MEMORY A pool memory allocation has failed.")
	case ErrorFragmentation:
		return conditionalOperator(!extended, "VK_ERROR_FRAGMENTATION", "VK_ERROR_FRAGMENTATION A descriptor pool creation has failed due to fragmentation.")
	}
	return fmt.Sprintf("VkResult(%d)", int32(r))
}

func conditionalOperator(condition bool, res1, res2 string) string {
	if condition {
		return res1
	}
	return res2
}
