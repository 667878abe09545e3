package model

// Change kinds carried by notifications and published events.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// Auxiliary table categories kept for every resource type.
const (
	AuxListener     = "listener"
	AuxNotification = "notification"
	AuxVersions     = "versions"
)

// ListenerPrototype is the shape of a listener document.
var ListenerPrototype = MustPrototype(
	TextField(FieldType),
	TextField(FieldID),
	TextField(FieldRevision),
	BooleanField("notify_of_new"),
	BooleanField("listen_on_all"),
	ListField("listen_on", Text),
)

// NotificationPrototype is the shape of a notification document.
var NotificationPrototype = MustPrototype(
	TextField(FieldType),
	TextField(FieldID),
	TextField(FieldRevision),
	TextField("listener_id"),
	TextField("resource_id"),
	TextField("resource_revision"),
	TextField("resource_change"),
	IntegerField("last_modified"),
)

// Type names stored in the type field of listener and notification documents.
const (
	ListenerType     = "listener"
	NotificationType = "notification"
)
