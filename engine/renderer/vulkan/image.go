package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
)

// image is an off-screen attachment owned by the device. It is registered
// under its view's handle.
type image struct {
	handle vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	width  uint32
	height uint32
}

// CreateImage allocates a device-local 2D image with a view over all of it
// and returns the view's handle. Destroying the view releases the image.
func (d *Device) CreateImage(extent gpu.Extent2D, format gpu.Format, usage gpu.ImageUsage) (gpu.Handle, error) {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(format),
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &image{width: extent.Width, height: extent.Height}
	if err := check(vk.CreateImage(d.logicalDevice, &imageInfo, nil, &img.handle)); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "create image")
	}

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logicalDevice, img.handle, &memReqs)
	memReqs.Deref()

	memoryIndex := d.FindMemoryIndex(memReqs.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryIndex < 0 {
		d.destroyImage(img)
		return gpu.NullHandle, errors.Wrap(gpu.ErrorOutOfDeviceMemory, "no device-local memory for image")
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if err := d.locks.SafeCall(MemoryManagement, func() error {
		if err := check(vk.AllocateMemory(d.logicalDevice, &allocInfo, nil, &img.memory)); err != nil {
			return err
		}
		return check(vk.BindImageMemory(d.logicalDevice, img.handle, img.memory, 0))
	}); err != nil {
		d.destroyImage(img)
		return gpu.NullHandle, errors.Wrap(err, "bind image memory")
	}

	aspect := vk.ImageAspectColorBit
	if format.IsDepth() {
		aspect = vk.ImageAspectDepthBit
	}
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if err := check(vk.CreateImageView(d.logicalDevice, &viewInfo, nil, &img.view)); err != nil {
		d.destroyImage(img)
		return gpu.NullHandle, errors.Wrap(err, "create image view")
	}
	return d.objects.add(gpu.KindImageView, img), nil
}

// imageView resolves both owned images and imported views.
func (d *Device) imageView(h gpu.Handle) (vk.ImageView, error) {
	if img, err := lookup[*image](d.objects, gpu.KindImageView, h); err == nil {
		return img.view, nil
	}
	return lookup[vk.ImageView](d.objects, gpu.KindImageView, h)
}

func (d *Device) destroyImage(img *image) {
	if img.view != vk.NullImageView {
		vk.DestroyImageView(d.logicalDevice, img.view, nil)
		img.view = vk.NullImageView
	}
	if img.handle != vk.NullImage {
		vk.DestroyImage(d.logicalDevice, img.handle, nil)
		img.handle = vk.NullImage
	}
	if img.memory != vk.NullDeviceMemory {
		vk.FreeMemory(d.logicalDevice, img.memory, nil)
		img.memory = vk.NullDeviceMemory
	}
}
