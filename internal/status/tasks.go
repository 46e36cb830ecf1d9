package status

// TaskState describes the step a long running operation is on.
type TaskState string

const (
	TaskImagePendingUpload TaskState = "image_pending_upload"
	TaskImageUploading     TaskState = "image_uploading"
	TaskResizeMigrating    TaskState = "resize_migrating"
	TaskResizeFinish       TaskState = "resize_finish"
)

// TaskStateFunc receives a task state and the state the caller expects the
// task to be in before the update.
type TaskStateFunc func(state, expected TaskState)

// Report calls fn if it is set.
func (fn TaskStateFunc) Report(state, expected TaskState) {
	if fn != nil {
		fn(state, expected)
	}
}
