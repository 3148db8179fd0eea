package domain

type LessonID string

type Lesson struct {
	ID      LessonID `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
}

// Catalog is the set of lessons a host may share.
type Catalog struct {
	lessons []Lesson
	byID    map[LessonID]Lesson
}

func NewCatalog(lessons ...Lesson) *Catalog {
	c := &Catalog{byID: make(map[LessonID]Lesson, len(lessons))}
	for _, l := range lessons {
		if _, dup := c.byID[l.ID]; dup {
			continue
		}
		c.lessons = append(c.lessons, l)
		c.byID[l.ID] = l
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		Lesson{ID: "L1", Title: "Basic Greetings", Content: "Hola! Buenos días. ¿Cómo estás? (Hello! Good morning. How are you?)"},
		Lesson{ID: "L2", Title: "Numbers & Colors", Content: "Uno (1), Dos (2), Tres (3). Rojo (Red), Azul (Blue), Verde (Green)."},
		Lesson{ID: "L3", Title: "Food & Drink", Content: "La comida (food), La bebida (drink), El agua (water), El pan (bread)."},
		Lesson{ID: "L4", Title: "Family & Friends", Content: "Madre (Mother), Padre (Father), Amigo (Friend), Hermano (Brother)."},
	)
}

func (c *Catalog) Lookup(id LessonID) (Lesson, bool) {
	l, ok := c.byID[id]
	return l, ok
}

func (c *Catalog) List() []Lesson {
	out := make([]Lesson, len(c.lessons))
	copy(out, c.lessons)
	return out
}
