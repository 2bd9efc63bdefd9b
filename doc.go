// Package forge is a real-time rendering engine core.
//
// The engine resolves materials from a read-only SQLite shader store,
// reflects descriptor layouts directly from SPIR-V bytecode, caches
// graphics pipelines keyed by material, vertex layout and render state,
// suballocates device memory from budgeted blocks, and records frames
// across worker goroutines with a fixed number of frames in flight.
//
// A minimal frame loop:
//
//	eng, err := forge.New(forge.WithMaterialDB("materials.db"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	mesh, err := eng.CreateMesh(vertices, indices, layout)
//	if err != nil {
//		log.Fatal(err)
//	}
//	mat, err := eng.LoadMaterial("pbr_metal")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for running {
//		err := eng.SubmitFrame(cam, []forge.DrawRequest{
//			{Mesh: mesh, Material: mat, Transform: forge.Translation(0, 0, -3)},
//		})
//		if errors.Is(err, forge.ErrFrameSkipped) {
//			continue
//		}
//		if err != nil {
//			log.Fatal(err)
//		}
//	}
//
// Device access goes through the gpucore.DeviceAdapter interface; the
// backend/wgpu package provides the default adapter and backend/fake an
// in-memory one for tests.
package forge
