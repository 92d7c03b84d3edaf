/*
Package types provides the shared type contracts of the BlendAI core.

It is the lowest-level package and depends on nothing internal. The llm,
translate, scene, and assets packages all exchange data through the types
defined here, which keeps the pipeline free of import cycles.

Core types:

  - Error / ErrorCode: structured error taxonomy with backend, rule, and
    per-attempt metadata
  - SceneContext / SceneObject: bounded snapshot of the host selection
  - EditRequest / RawCompletion: router input and output
  - EditCommand / CommandSequence: validated scene edits
  - AssetRequest / CachedAsset / ObjectHandle: asset import data model
*/
package types
