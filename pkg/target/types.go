package target

import "time"

// Entity - вид сущности, в которой хранится import_id
type Entity string

const (
	EntityUser     Entity = "user"
	EntityCategory Entity = "category"
	EntityTopic    Entity = "topic"
	EntityPost     Entity = "post"
)

// NewUser - запрос на создание пользователя.
// PasswordHash переносится как есть и никогда не перехешируется.
type NewUser struct {
	Username      string
	Name          string
	Email         string
	PasswordHash  string
	CreatedAt     time.Time
	LastSeenAt    *time.Time
	SuspendedTill *time.Time
	ImportID      string
}

// User - пользователь целевой платформы
type User struct {
	ID               int64
	Username         string
	Name             string
	Email            string
	PasswordHash     string
	CreatedAt        time.Time
	LastSeenAt       *time.Time
	SuspendedTill    *time.Time
	UploadedAvatarID *int64
	ImportID         string
}

// NewCategory - запрос на создание категории; ParentID == nil - верхний уровень
type NewCategory struct {
	Name        string
	Slug        string
	Description string
	Position    *int64
	ParentID    *int64
	ImportID    string
}

// Category - категория целевой платформы
type Category struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	Position    *int64
	ParentID    *int64
	ImportID    string
}

// NewTopic - топик вместе с первым постом.
// ImportID - исходный id первого поста, DiscussionID - id обсуждения Flarum.
type NewTopic struct {
	Title        string
	Slug         string
	CategoryID   *int64
	UserID       int64
	Raw          string
	CreatedAt    time.Time
	ImportID     string
	DiscussionID string
}

// TopicRef - id созданного топика и его первого поста
type TopicRef struct {
	TopicID int64
	PostID  int64
}

// Topic - топик целевой платформы
type Topic struct {
	ID                int64
	Title             string
	Slug              string
	CategoryID        *int64
	UserID            int64
	PostsCount        int
	HighestPostNumber int
	CreatedAt         time.Time
	LastPostedAt      time.Time
	ImportID          string
	DiscussionID      string
}

// ImportedTopic - топик с import_id, источник редиректа
type ImportedTopic struct {
	TopicID      int64
	Title        string
	ImportID     string
	DiscussionID string
}

// NewPost - ответ в существующем топике
type NewPost struct {
	TopicID   int64
	UserID    int64
	Raw       string
	CreatedAt time.Time
	ImportID  string
}

// Post - пост целевой платформы
type Post struct {
	ID         int64
	TopicID    int64
	UserID     int64
	PostNumber int
	Raw        string
	CreatedAt  time.Time
	ImportID   string
}

// NewUpload - загруженный файл. Файлы с одинаковым SHA хранятся один раз.
type NewUpload struct {
	UserID           int64
	SHA              string
	OriginalFilename string
	Size             int64
	ContentType      string
	URL              string
}

// Permalink - редирект со старого пути; задан ровно один из TopicID, CategoryID
type Permalink struct {
	URL        string
	TopicID    *int64
	CategoryID *int64
}

// Counts - количество строк по таблицам; системный пользователь не учитывается
type Counts struct {
	Users      int64 `json:"users"`
	Categories int64 `json:"categories"`
	Topics     int64 `json:"topics"`
	Posts      int64 `json:"posts"`
	Uploads    int64 `json:"uploads"`
	Permalinks int64 `json:"permalinks"`
}
