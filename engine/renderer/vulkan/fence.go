package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

func (d *Device) CreateFence(signaled bool) (gpu.Handle, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if err := check(vk.CreateFence(d.logicalDevice, &fenceCreateInfo, nil, &pFence)); err != nil {
		core.LogError("failed to create fence: %s", err)
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindFence, pFence), nil
}

func (d *Device) WaitForFences(fences []gpu.Handle, timeout time.Duration) error {
	if len(fences) == 0 {
		return nil
	}
	handles, err := lookupAll[vk.Fence](d.objects, gpu.KindFence, fences)
	if err != nil {
		return err
	}

	result := vk.WaitForFences(d.logicalDevice, uint32(len(handles)), handles, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out after %s", timeout)
		return gpu.Timeout
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	case vk.ErrorOutOfHostMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_HOST_MEMORY.")
	case vk.ErrorOutOfDeviceMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_DEVICE_MEMORY.")
	default:
		core.LogError("vk_fence_wait - An unknown error has occurred.")
	}
	return gpu.Result(result)
}

func (d *Device) ResetFences(fences []gpu.Handle) error {
	if len(fences) == 0 {
		return nil
	}
	handles, err := lookupAll[vk.Fence](d.objects, gpu.KindFence, fences)
	if err != nil {
		return err
	}
	return d.locks.SafeCall(SynchronizationManagement, func() error {
		return check(vk.ResetFences(d.logicalDevice, uint32(len(handles)), handles))
	})
}

func (d *Device) CreateSemaphore() (gpu.Handle, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var pSemaphore vk.Semaphore
	if err := check(vk.CreateSemaphore(d.logicalDevice, &semaphoreCreateInfo, nil, &pSemaphore)); err != nil {
		core.LogError("failed to create semaphore: %s", err)
		return gpu.NullHandle, err
	}
	return d.objects.add(gpu.KindSemaphore, pSemaphore), nil
}
