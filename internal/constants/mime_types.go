package constants

// DefaultAllowedUploadTypes lists the file extensions the web client may relay to the chat
var DefaultAllowedUploadTypes = []string{"jpeg", "jpg", "png", "gif", "pdf", "doc", "docx", "txt", "zip"}

// PhotoExtensions are uploaded as Telegram photos; everything else goes as a document
var PhotoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// DefaultPhotoExtension is used for photos downloaded from Telegram
const DefaultPhotoExtension = "jpg"
