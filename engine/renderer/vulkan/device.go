// Package vulkan implements gpu.Device on top of github.com/goki/vulkan.
//
// The device is headless: no surface or swapchain is created. Render targets
// are either allocated with CreateImage or imported with RegisterImageView.
package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

const (
	validationLayerName      = "VK_LAYER_KHRONOS_validation"
	portabilitySubsetName    = "VK_KHR_portability_subset"
	portabilityEnumerateName = "VK_KHR_portability_enumeration"
	physicalDeviceProps2Name = "VK_KHR_get_physical_device_properties2"
)

var (
	loaderOnce sync.Once
	loaderErr  error
)

// initLoader loads the system Vulkan library once per process.
func initLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = errors.Wrap(err, "load vulkan library")
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = errors.Wrap(err, "initialize vulkan loader")
		}
	})
	return loaderErr
}

type physicalDeviceRequirements struct {
	Graphics             bool
	Compute              bool
	DiscreteGPU          bool
	DeviceExtensionNames []string
}

type queueFamilyInfo struct {
	GraphicsFamilyIndex int32
	ComputeFamilyIndex  int32
}

var _ gpu.Device = (*Device)(nil)

// Device is the goki/vulkan backed gpu.Device.
type Device struct {
	instance       vk.Instance
	debugCallback  vk.DebugReportCallback
	physicalDevice vk.PhysicalDevice
	logicalDevice  vk.Device
	memory         vk.PhysicalDeviceMemoryProperties
	properties     gpu.Properties

	updateAfterBind bool
	validation      bool

	graphics gpu.Queue
	compute  gpu.Queue

	objects *registry
	locks   *LockPool
}

// NewHeadlessDevice brings up an instance, picks a physical device with a
// graphics queue and creates the logical device. A dedicated compute family is
// used when the hardware exposes one.
func NewHeadlessDevice(cfg core.DeviceConfig) (*Device, error) {
	if err := initLoader(); err != nil {
		return nil, err
	}

	d := &Device{
		validation: cfg.Validation,
		objects:    newRegistry(),
		locks:      NewLockPool(),
	}
	if err := d.createInstance(cfg.ApplicationName); err != nil {
		return nil, err
	}

	queues, err := d.selectPhysicalDevice()
	if err != nil {
		d.destroyInstance()
		return nil, err
	}
	if err := d.createLogicalDevice(queues); err != nil {
		d.destroyInstance()
		return nil, err
	}

	core.LogInfo("Vulkan device '%s' ready.", d.properties.DeviceName)
	return d, nil
}

func (d *Device) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, portabilityEnumerateName, physicalDeviceProps2Name)
		createInfo.Flags |= 1
	}

	layers := []string{}
	if d.validation {
		if hasInstanceLayer(validationLayerName) {
			layers = append(layers, validationLayerName)
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
			core.LogInfo("Validation layers enabled.")
		} else {
			core.LogWarn("Required validation layer is missing: %s", validationLayerName)
			d.validation = false
		}
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := check(vk.CreateInstance(&createInfo, nil, &d.instance)); err != nil {
		core.LogError("failed in creating the Vulkan Instance with error `%s`", err)
		return errors.Wrap(err, "create instance")
	}
	if err := vk.InitInstance(d.instance); err != nil {
		core.LogError(err.Error())
		return errors.Wrap(err, "init instance")
	}
	core.LogInfo("Vulkan Instance created.")

	if d.validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := check(vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			d.debugCallback = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if ToString(available[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func deviceExtensions(device vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return nil, err
	}
	available := make([]vk.ExtensionProperties, count)
	if err := check(vk.EnumerateDeviceExtensionProperties(device, "", &count, available)); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := range available {
		available[i].Deref()
		names = append(names, ToString(available[i].ExtensionName[:]))
	}
	return names, nil
}

func (d *Device) selectPhysicalDevice() (queueFamilyInfo, error) {
	var physicalDeviceCount uint32
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &physicalDeviceCount, nil)); err != nil {
		return queueFamilyInfo{}, errors.Wrap(err, "enumerate physical devices")
	}
	if physicalDeviceCount == 0 {
		return queueFamilyInfo{}, errors.New("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return queueFamilyInfo{}, errors.Wrap(err, "enumerate physical devices")
	}

	// Prefer a discrete GPU, then settle for anything with a graphics queue.
	for _, discrete := range []bool{true, false} {
		requirements := physicalDeviceRequirements{
			Graphics:    true,
			Compute:     true,
			DiscreteGPU: discrete && runtime.GOOS != "darwin",
		}
		for _, candidate := range physicalDevices {
			properties := vk.PhysicalDeviceProperties{}
			vk.GetPhysicalDeviceProperties(candidate, &properties)
			properties.Deref()

			queues, ok := physicalDeviceMeetsRequirements(candidate, &properties, &requirements)
			if !ok {
				continue
			}
			d.adoptPhysicalDevice(candidate, &properties)
			return queues, nil
		}
	}
	return queueFamilyInfo{}, errors.New("no physical devices were found which meet the requirements")
}

func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *physicalDeviceRequirements) (queueFamilyInfo, bool) {
	queues := queueFamilyInfo{GraphicsFamilyIndex: -1, ComputeFamilyIndex: -1}
	name := ToString(properties.DeviceName[:])

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device '%s' is not a discrete GPU, and one is required. Skipping.", name)
		return queues, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		graphics := flags&vk.QueueGraphicsBit != 0
		compute := flags&vk.QueueComputeBit != 0

		if graphics && queues.GraphicsFamilyIndex < 0 {
			queues.GraphicsFamilyIndex = int32(i)
		}
		// A compute family without graphics is a dedicated async compute queue.
		if compute && (queues.ComputeFamilyIndex < 0 || !graphics) {
			queues.ComputeFamilyIndex = int32(i)
		}
	}

	if requirements.Graphics && queues.GraphicsFamilyIndex < 0 {
		return queues, false
	}
	if requirements.Compute && queues.ComputeFamilyIndex < 0 {
		return queues, false
	}

	if len(requirements.DeviceExtensionNames) > 0 {
		available, err := deviceExtensions(device)
		if err != nil {
			return queues, false
		}
		for _, required := range requirements.DeviceExtensionNames {
			found := false
			for _, ext := range available {
				if ext == required {
					found = true
					break
				}
			}
			if !found {
				core.LogInfo("Required extension not found: '%s', skipping device.", required)
				return queues, false
			}
		}
	}

	core.LogDebug("Graphics Family Index: %d", queues.GraphicsFamilyIndex)
	core.LogDebug("Compute Family Index:  %d", queues.ComputeFamilyIndex)
	return queues, true
}

func (d *Device) adoptPhysicalDevice(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties) {
	d.physicalDevice = device

	limits := properties.Limits
	limits.Deref()
	d.properties = gpu.Properties{
		DeviceName:                      ToString(properties.DeviceName[:]),
		PipelineCacheUUID:               uuid.UUID(properties.PipelineCacheUUID),
		MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
		MinTexelBufferOffsetAlignment:   uint64(limits.MinTexelBufferOffsetAlignment),
		NonCoherentAtomSize:             uint64(limits.NonCoherentAtomSize),
		MaxBoundDescriptorSets:          limits.MaxBoundDescriptorSets,
	}

	vk.GetPhysicalDeviceMemoryProperties(device, &d.memory)
	d.memory.Deref()

	core.LogInfo("Selected device: '%s'.", d.properties.DeviceName)
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(properties.ApiVersion)),
		vk.Version.Minor(vk.Version(properties.ApiVersion)),
		vk.Version.Patch(vk.Version(properties.ApiVersion)),
	)
	for j := 0; j < int(d.memory.MemoryHeapCount); j++ {
		heap := d.memory.MemoryHeaps[j]
		heap.Deref()
		memorySizeGib := uint64(heap.Size) / 1024 / 1024 / 1024
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %d GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %d GiB", memorySizeGib)
		}
	}
}

// descriptorIndexingFeatures reports the update-after-bind support of the device.
func (d *Device) descriptorIndexingFeatures() vk.PhysicalDeviceVulkan12Features {
	supported := vk.PhysicalDeviceVulkan12Features{
		SType: vk.StructureTypePhysicalDeviceVulkan12Features,
	}
	ref, _ := supported.PassRef()
	features := vk.PhysicalDeviceFeatures2{
		SType: vk.StructureTypePhysicalDeviceFeatures2,
		PNext: unsafe.Pointer(ref),
	}
	vk.GetPhysicalDeviceFeatures2(d.physicalDevice, &features)
	supported.Deref()
	return supported
}

func (d *Device) createLogicalDevice(queues queueFamilyInfo) error {
	core.LogInfo("Creating logical device...")

	// Do not create additional queues for shared indices.
	families := []uint32{uint32(queues.GraphicsFamilyIndex)}
	if queues.ComputeFamilyIndex != queues.GraphicsFamilyIndex {
		families = append(families, uint32(queues.ComputeFamilyIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{}
	if available, err := deviceExtensions(d.physicalDevice); err == nil {
		for _, ext := range available {
			if ext == portabilitySubsetName {
				core.LogInfo("Adding required extension '%s'.", portabilitySubsetName)
				extensionNames = append(extensionNames, portabilitySubsetName)
			}
		}
	}

	supported := d.descriptorIndexingFeatures()
	enabled := vk.PhysicalDeviceVulkan12Features{
		SType:                                         vk.StructureTypePhysicalDeviceVulkan12Features,
		DescriptorIndexing:                            supported.DescriptorIndexing,
		DescriptorBindingUniformBufferUpdateAfterBind: supported.DescriptorBindingUniformBufferUpdateAfterBind,
		DescriptorBindingStorageBufferUpdateAfterBind: supported.DescriptorBindingStorageBufferUpdateAfterBind,
		DescriptorBindingSampledImageUpdateAfterBind:  supported.DescriptorBindingSampledImageUpdateAfterBind,
		DescriptorBindingStorageImageUpdateAfterBind:  supported.DescriptorBindingStorageImageUpdateAfterBind,
		DescriptorBindingUpdateUnusedWhilePending:     supported.DescriptorBindingUpdateUnusedWhilePending,
		DescriptorBindingPartiallyBound:               supported.DescriptorBindingPartiallyBound,
	}
	d.updateAfterBind = supported.DescriptorBindingUniformBufferUpdateAfterBind == vk.True &&
		supported.DescriptorBindingStorageBufferUpdateAfterBind == vk.True
	enabledRef, _ := enabled.PassRef()

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(enabledRef),
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if err := check(vk.CreateDevice(d.physicalDevice, &deviceCreateInfo, nil, &d.logicalDevice)); err != nil {
		return errors.Wrap(err, "create logical device")
	}
	core.LogInfo("Logical device created.")

	d.graphics = d.obtainQueue(uint32(queues.GraphicsFamilyIndex), gpu.QueueGraphics|gpu.QueueCompute|gpu.QueueTransfer)
	if queues.ComputeFamilyIndex == queues.GraphicsFamilyIndex {
		d.compute = d.graphics
	} else {
		d.compute = d.obtainQueue(uint32(queues.ComputeFamilyIndex), gpu.QueueCompute|gpu.QueueTransfer)
	}
	core.LogInfo("Queues obtained.")
	return nil
}

func (d *Device) obtainQueue(family uint32, flags gpu.QueueFlags) gpu.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(d.logicalDevice, family, 0, &queue)
	d.locks.SetQueueFamily(family)
	return gpu.Queue{
		Handle:      d.objects.add(gpu.KindUnknown, queue),
		FamilyIndex: family,
		Flags:       flags,
	}
}

func (d *Device) Properties() gpu.Properties {
	return d.properties
}

// GraphicsQueue returns the queue of the first graphics-capable family.
func (d *Device) GraphicsQueue() gpu.Queue {
	return d.graphics
}

// ComputeQueue returns the dedicated compute queue, or the graphics queue when
// the device has no separate compute family.
func (d *Device) ComputeQueue() gpu.Queue {
	return d.compute
}

// SupportsUpdateAfterBind reports whether update-after-bind descriptor pools
// and layouts can be created.
func (d *Device) SupportsUpdateAfterBind() bool {
	return d.updateAfterBind
}

func (d *Device) WaitIdle() error {
	return d.locks.SafeCall(DeviceManagement, func() error {
		return check(vk.DeviceWaitIdle(d.logicalDevice))
	})
}

// Close waits for the device, destroys every object still registered and
// tears down the logical device and the instance.
func (d *Device) Close() {
	if d.logicalDevice != nil {
		if err := d.WaitIdle(); err != nil {
			core.LogWarn("wait idle before shutdown: %s", err)
		}

		leftovers := d.objects.kinds()
		// Sets and command buffers go with their pools.
		for _, kind := range destroyOrder {
			for h, k := range leftovers {
				if k == kind {
					d.Destroy(kind, h)
				}
			}
		}

		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.logicalDevice, nil)
		d.logicalDevice = nil
	}
	d.physicalDevice = nil
	d.destroyInstance()
}

var destroyOrder = []gpu.ObjectKind{
	gpu.KindGraphicsPipeline,
	gpu.KindComputePipeline,
	gpu.KindPipelineCache,
	gpu.KindFramebuffer,
	gpu.KindImageView,
	gpu.KindRenderPass,
	gpu.KindPipelineLayout,
	gpu.KindDescriptorPool,
	gpu.KindDescriptorSetLayout,
	gpu.KindShaderModule,
	gpu.KindCommandPool,
	gpu.KindBuffer,
	gpu.KindSemaphore,
	gpu.KindFence,
}

func (d *Device) destroyInstance() {
	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

// Destroy releases a native object. Unknown handles are ignored.
func (d *Device) Destroy(kind gpu.ObjectKind, h gpu.Handle) {
	if h == gpu.NullHandle {
		return
	}
	switch kind {
	case gpu.KindDescriptorSet:
		d.destroyDescriptorSet(h)
		return
	case gpu.KindCommandBuffer:
		d.destroyCommandBuffer(h)
		return
	}

	o, ok := d.objects.get(h)
	if !ok || o.kind != kind {
		core.LogWarn("destroy of unknown %s handle %d", kind, h)
		return
	}
	if o.name != "" {
		core.LogDebug("Destroying %s '%s'", kind, o.name)
	}

	dev := d.logicalDevice
	switch v := o.value.(type) {
	case vk.ShaderModule:
		vk.DestroyShaderModule(dev, v, nil)
	case vk.DescriptorSetLayout:
		vk.DestroyDescriptorSetLayout(dev, v, nil)
	case vk.PipelineLayout:
		vk.DestroyPipelineLayout(dev, v, nil)
	case vk.RenderPass:
		vk.DestroyRenderPass(dev, v, nil)
	case vk.Pipeline:
		_ = d.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(dev, v, nil)
			return nil
		})
	case vk.PipelineCache:
		vk.DestroyPipelineCache(dev, v, nil)
	case vk.Framebuffer:
		vk.DestroyFramebuffer(dev, v, nil)
	case *descriptorPool:
		d.destroyDescriptorPool(v)
	case vk.Fence:
		vk.DestroyFence(dev, v, nil)
	case vk.Semaphore:
		vk.DestroySemaphore(dev, v, nil)
	case *commandPool:
		d.destroyCommandPool(v)
	case *buffer:
		d.destroyBuffer(v)
	case *image:
		d.destroyImage(v)
	case vk.ImageView, vk.Sampler:
		// Imported objects stay owned by whoever registered them.
	}
	d.objects.remove(h)
}

// SetDebugName attaches a name that the device uses in its own diagnostics.
func (d *Device) SetDebugName(kind gpu.ObjectKind, h gpu.Handle, name string) {
	if !d.objects.setName(h, name) {
		core.LogDebug("debug name '%s' for unknown %s handle %d", name, kind, h)
	}
}

// Live counts the registered objects of a kind.
func (d *Device) Live(kind gpu.ObjectKind) int {
	return d.objects.live(kind)
}

// RegisterImageView imports an image view created outside the device so it
// can be referenced by framebuffers and descriptor writes.
func (d *Device) RegisterImageView(view vk.ImageView) gpu.Handle {
	return d.objects.add(gpu.KindImageView, view)
}

// RegisterSampler imports a sampler created outside the device.
func (d *Device) RegisterSampler(sampler vk.Sampler) gpu.Handle {
	return d.objects.add(gpu.KindSampler, sampler)
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
