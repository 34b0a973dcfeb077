package models

import "database/sql"

// EmptyFileHash is the md5 of zero bytes, used when a koko row has no checksum
const EmptyFileHash = "d41d8cd98f00b204e9800998ecf8427e"

// SourceRow is one post read from a Kokonotsuba imglog table
type SourceRow struct {
	No        int64  `json:"no"`
	Resto     int64  `json:"resto"`
	Time      int64  `json:"time"`
	MD5Chksum string `json:"md5chksum"`
	Tim       int64  `json:"tim"`
	Fname     string `json:"fname"`
	Ext       string `json:"ext"`
	ImgW      int    `json:"imgw"`
	ImgH      int    `json:"imgh"`
	ImgSize   string `json:"imgsize"`
	TW        int    `json:"tw"`
	TH        int    `json:"th"`
	Pwd       string `json:"pwd"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Sub       string `json:"sub"`
	Com       string `json:"com"`
	Host      string `json:"host"`
}

// IsThreadRoot reports whether the row opens a thread
func (r *SourceRow) IsThreadRoot() bool {
	return r.Resto <= 0
}

// HasFile reports whether the row carries an attachment
func (r *SourceRow) HasFile() bool {
	return r.MD5Chksum != ""
}

// ThreadBatch is a run of rows belonging to one thread, inserted together
type ThreadBatch []*SourceRow

// IsRootOnly reports whether the batch holds exactly one thread-opening row
func (b ThreadBatch) IsRootOnly() bool {
	return len(b) == 1 && b[0].IsThreadRoot()
}

// FileDescriptor is a vichan file object, serialized into the posts.files JSON column
type FileDescriptor struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	TmpName     string `json:"tmp_name"`
	Error       int    `json:"error"`
	Size        int64  `json:"size"`
	Filename    string `json:"filename"`
	Extension   string `json:"extension"`
	FileID      int64  `json:"file_id"`
	File        string `json:"file"`
	Thumb       string `json:"thumb"`
	IsAnImage   bool   `json:"is_an_image"`
	Hash        string `json:"hash"`
	ThumbWidth  int    `json:"thumbwidth"`
	ThumbHeight int    `json:"thumbheight"`
	FilePath    string `json:"file_path"`
	ThumbPath   string `json:"thumb_path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// VichanPost is a transformed row ready for insertion into posts_<board>
type VichanPost struct {
	Thread       sql.NullInt64
	Subject      sql.NullString
	Email        sql.NullString
	Name         string
	Trip         sql.NullString
	Body         string
	BodyNoMarkup string
	Time         int64
	Bump         int64
	Files        sql.NullString
	NumFiles     int
	FileHash     sql.NullString
	Password     sql.NullString
	IP           string
	Slug         sql.NullString
	Sticky       int
	Locked       int
	Cycle        int
	Sage         int
}
