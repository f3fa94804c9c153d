// Package processors implements the capability set the workflow registry can
// bind: rendering via the image-generation backend, asset download, moving
// results into the library, metadata tagging, webhook delivery, and a no-op
// passthrough. Each processor reads the job's request and accumulated result
// payloads and returns the fields it contributes; the worker merges them and
// applies the transition.
package processors
