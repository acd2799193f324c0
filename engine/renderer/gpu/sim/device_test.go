package sim

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/renderer/gpu"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Latency = 10 * time.Millisecond
	opts.HostStep = time.Millisecond
	return opts
}

func recordEmpty(t *testing.T, d *Device) gpu.CommandBuffer {
	t.Helper()
	cbs, err := d.AllocateCommandBuffers(1)
	require.NoError(t, err)
	require.NoError(t, d.BeginCommandBuffer(cbs[0], 0))
	require.NoError(t, d.EndCommandBuffer(cbs[0]))
	return cbs[0]
}

func TestFenceCompletesOnClock(t *testing.T) {
	d := New(testOptions())
	cb := recordEmpty(t, d)

	fence, err := d.CreateFence(true)
	require.NoError(t, err)
	require.ErrorIs(t, d.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}, Fence: fence}), ErrFenceBusy)

	require.NoError(t, d.ResetFence(fence))
	require.NoError(t, d.Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{cb}, Fence: fence}))

	signaled, err := d.FenceSignaled(fence)
	require.NoError(t, err)
	require.False(t, signaled)
	require.ErrorIs(t, d.ResetFence(fence), ErrFenceBusy)

	ok, err := d.WaitForFence(fence, 2*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = d.WaitForFence(fence, gpu.TimeoutInfinite)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10*time.Millisecond, d.Now())
	require.True(t, d.SubmissionComplete(0))
}

func TestWaitOnUnsubmittedFenceDeadlocks(t *testing.T) {
	d := New(testOptions())
	fence, err := d.CreateFence(false)
	require.NoError(t, err)

	_, err = d.WaitForFence(fence, gpu.TimeoutInfinite)
	require.True(t, errors.Is(err, ErrDeadlock))
}

func TestSemaphoreReuseRejectedWhilePending(t *testing.T) {
	d := New(testOptions())
	sc, _, err := d.CreateSwapchain(gpu.SwapchainDesc{
		Extent:      d.opts.Extent,
		ImageCount:  3,
		Format:      d.opts.Formats[0],
		PresentMode: gpu.PresentModeFifo,
	})
	require.NoError(t, err)

	imageAvailable, _ := d.CreateSemaphore()
	renderFinished, _ := d.CreateSemaphore()
	cb := recordEmpty(t, d)

	_, status, err := d.AcquireNextImage(sc, gpu.TimeoutInfinite, imageAvailable)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuccess, status)

	// Acquiring again into a semaphore nobody waited on is a reuse bug.
	_, _, err = d.AcquireNextImage(sc, gpu.TimeoutInfinite, imageAvailable)
	require.ErrorIs(t, err, ErrSemaphoreBusy)

	require.NoError(t, d.Submit(gpu.SubmitInfo{
		WaitSemaphores:   []gpu.Semaphore{imageAvailable},
		WaitStages:       []gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []gpu.CommandBuffer{cb},
		SignalSemaphores: []gpu.Semaphore{renderFinished},
	}))
	_, err = d.Present(sc, 0, renderFinished)
	require.NoError(t, err)

	// The submission that waited on imageAvailable is still running.
	_, _, err = d.AcquireNextImage(sc, gpu.TimeoutInfinite, imageAvailable)
	require.ErrorIs(t, err, ErrSemaphoreBusy)

	require.NoError(t, d.WaitIdle())
	_, _, err = d.AcquireNextImage(sc, gpu.TimeoutInfinite, imageAvailable)
	require.NoError(t, err)
}

func TestScriptedAndExtentDrivenStatuses(t *testing.T) {
	d := New(testOptions())
	sc, images, err := d.CreateSwapchain(gpu.SwapchainDesc{
		Extent:      d.opts.Extent,
		ImageCount:  2,
		Format:      d.opts.Formats[1],
		PresentMode: gpu.PresentModeMailbox,
	})
	require.NoError(t, err)
	require.Len(t, images, 2)

	sem, _ := d.CreateSemaphore()
	d.ScriptAcquire(gpu.StatusOutOfDate)
	_, status, err := d.AcquireNextImage(sc, gpu.TimeoutInfinite, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusOutOfDate, status)

	d.ScriptImages(1)
	d.ScriptPresent(gpu.StatusSuboptimal)
	idx, status, err := d.AcquireNextImage(sc, gpu.TimeoutInfinite, sem)
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx)
	require.Equal(t, gpu.StatusSuccess, status)
	status, err = d.Present(sc, idx, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusSuboptimal, status)

	d.SetExtent(gpu.Extent2D{Width: 1024, Height: 768})
	_, status, err = d.AcquireNextImage(sc, gpu.TimeoutInfinite, sem)
	require.NoError(t, err)
	require.Equal(t, gpu.StatusOutOfDate, status)

	d.DestroySwapchain(sc)
	require.Zero(t, d.Live(KindSwapchain))
}

func TestCopiesExecuteOnSubmit(t *testing.T) {
	d := New(testOptions())
	host, err := d.AllocateMemory(gpu.MemoryClassHostVisibleCoherent, 1<<16)
	require.NoError(t, err)
	local, err := d.AllocateMemory(gpu.MemoryClassDeviceLocal, 1<<16)
	require.NoError(t, err)

	src, _, err := d.CreateBuffer(gpu.BufferDesc{Size: 64, Usage: gpu.BufferUsageTransferSrc})
	require.NoError(t, err)
	dst, _, err := d.CreateBuffer(gpu.BufferDesc{Size: 64, Usage: gpu.BufferUsageTransferDst | gpu.BufferUsageVertex})
	require.NoError(t, err)
	require.NoError(t, d.BindBufferMemory(src, host, 0))
	require.NoError(t, d.BindBufferMemory(dst, local, 0))
	require.Error(t, d.BindBufferMemory(dst, local, 64))

	mapped, err := d.MapMemory(host, 0, 1<<16)
	require.NoError(t, err)
	copy(mapped, []byte("prism"))
	_, err = d.MapMemory(local, 0, 64)
	require.Error(t, err)

	cbs, _ := d.AllocateCommandBuffers(1)
	require.NoError(t, d.BeginCommandBuffer(cbs[0], gpu.CommandBufferUsageOneTimeSubmit))
	d.CmdCopyBuffer(cbs[0], src, dst, []gpu.BufferCopy{{SrcOffset: 0, DstOffset: 8, Size: 5}})
	require.NoError(t, d.EndCommandBuffer(cbs[0]))
	require.NoError(t, d.Submit(gpu.SubmitInfo{CommandBuffers: cbs}))
	require.NoError(t, d.WaitIdle())

	out, err := d.ReadBuffer(dst)
	require.NoError(t, err)
	require.Equal(t, []byte("prism"), out[8:13])

	d.FreeCommandBuffers(cbs)
	d.DestroyBuffer(src)
	d.DestroyBuffer(dst)
	d.UnmapMemory(host)
	d.FreeMemory(host)
	d.FreeMemory(local)
	require.Zero(t, d.LiveTotal())
	require.Empty(t, d.Violations())
}

func TestLedgerFlagsOutOfOrderTeardown(t *testing.T) {
	d := New(testOptions())
	mem, _ := d.AllocateMemory(gpu.MemoryClassDeviceLocal, 1<<24)
	img, _, err := d.CreateImage(gpu.ImageDesc{Extent: gpu.Extent2D{Width: 64, Height: 64}, Format: gpu.FormatD24UnormS8Uint})
	require.NoError(t, err)
	require.NoError(t, d.BindImageMemory(img, mem, 0))
	view, err := d.CreateImageView(gpu.ImageViewDesc{Image: img, Format: gpu.FormatD24UnormS8Uint, Aspect: gpu.ImageAspectDepth})
	require.NoError(t, err)

	d.DestroyImage(img)
	d.DestroyImageView(view)
	d.DestroyImageView(view)
	require.Len(t, d.Violations(), 2)
}

func TestPipelineRejectsInvalidSPIRV(t *testing.T) {
	d := New(testOptions())
	rp, err := d.CreateRenderPass(gpu.RenderPassDesc{ColorFormat: gpu.FormatB8G8R8A8Srgb, DepthFormat: gpu.FormatD24UnormS8Uint, Samples: gpu.SampleCount4})
	require.NoError(t, err)
	layout, err := d.CreatePipelineLayout(nil)
	require.NoError(t, err)

	code := make([]byte, 32)
	binary.LittleEndian.PutUint32(code, spirvMagic)

	_, err = d.CreateGraphicsPipeline(gpu.PipelineDesc{RenderPass: rp, Layout: layout, VertexSPIRV: code, FragmentSPIRV: []byte("nope")})
	require.ErrorIs(t, err, ErrInvalidShader)

	p, err := d.CreateGraphicsPipeline(gpu.PipelineDesc{Label: "ok", RenderPass: rp, Layout: layout, VertexSPIRV: code, FragmentSPIRV: code})
	require.NoError(t, err)
	require.Equal(t, "ok", d.PipelineLabel(p))
}

func TestValidateSequence(t *testing.T) {
	group := []Command{
		{Op: OpBindVertexBuffers, Buffers: []gpu.Buffer{1}},
		{Op: OpBindIndexBuffer, Buffers: []gpu.Buffer{2}},
		{Op: OpBindPipeline, Pipeline: 3},
		{Op: OpBindDescriptorSets, Sets: []gpu.DescriptorSet{4}},
		{Op: OpDrawIndexed, IndexCount: 36, InstanceCount: 10},
	}
	cmds := []Command{{Op: OpBegin}, {Op: OpBeginRenderPass}}
	cmds = append(cmds, group...)
	cmds = append(cmds, Command{Op: OpEndRenderPass}, Command{Op: OpEnd})

	draws, err := ValidateSequence(cmds)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	require.Equal(t, gpu.Pipeline(3), draws[0].Pipeline)
	require.Equal(t, uint32(10), draws[0].InstanceCount)

	missing := append([]Command{{Op: OpBegin}, {Op: OpBeginRenderPass}}, group[1:]...)
	missing = append(missing, Command{Op: OpEndRenderPass}, Command{Op: OpEnd})
	_, err = ValidateSequence(missing)
	require.Error(t, err)

	_, err = ValidateSequence([]Command{{Op: OpBegin}, {Op: OpBeginRenderPass}, {Op: OpCopyBuffer}, {Op: OpEndRenderPass}, {Op: OpEnd}})
	require.Error(t, err)
}
