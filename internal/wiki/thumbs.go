package wiki

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/edisco/internal/logging"
	"github.com/abelbrown/edisco/internal/model"
)

const (
	thumbChunk = 50
	thumbSize  = "100"
)

type pageImagesResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID    int64  `json:"pageid"`
			Title     string `json:"title"`
			Thumbnail *struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		} `json:"pages"`
	} `json:"query"`
}

// PageImagesByID returns page image URLs keyed by page id. Pages without an
// image map to "". Lookup failures are logged and leave those ids out.
func (c *Client) PageImagesByID(ctx context.Context, ids []int64) map[int64]string {
	keys := make([]string, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, "id:"+strconv.FormatInt(id, 10))
	}

	found := c.lookupImages(ctx, keys, "pageids", func(key string) string {
		return strings.TrimPrefix(key, "id:")
	}, func(id int64, _ string) string {
		return "id:" + strconv.FormatInt(id, 10)
	})

	out := make(map[int64]string, len(found))
	for key, src := range found {
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "id:"), 10, 64)
		if err == nil {
			out[id] = src
		}
	}
	return out
}

// PageImagesByTitle returns page image URLs keyed by title with spaces.
func (c *Client) PageImagesByTitle(ctx context.Context, titles []string) map[string]string {
	keys := make([]string, 0, len(titles))
	seen := make(map[string]bool, len(titles))
	for _, t := range titles {
		t = spaced(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		keys = append(keys, "title:"+t)
	}

	found := c.lookupImages(ctx, keys, "titles", func(key string) string {
		return strings.TrimPrefix(key, "title:")
	}, func(_ int64, title string) string {
		return "title:" + spaced(title)
	})

	out := make(map[string]string, len(found))
	for key, src := range found {
		out[strings.TrimPrefix(key, "title:")] = src
	}
	return out
}

// lookupImages serves keys from the thumbnail cache and queries the rest in
// chunks of 50. param is "pageids" or "titles"; arg turns a key into its
// parameter value and keyOf turns a result page back into a key.
func (c *Client) lookupImages(ctx context.Context, keys []string, param string,
	arg func(key string) string, keyOf func(pageID int64, title string) string) map[string]string {

	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out
	}

	missing := keys
	if c.thumbs != nil {
		cached, err := c.thumbs.GetThumbnails(ctx, keys)
		if err != nil {
			logging.Warn("thumbnail cache read failed", "err", err)
		}
		missing = make([]string, 0, len(keys))
		for _, k := range keys {
			if src, ok := cached[k]; ok {
				out[k] = src
			} else {
				missing = append(missing, k)
			}
		}
	}
	if len(missing) == 0 {
		return out
	}

	var mu sync.Mutex
	fetched := make(map[string]string, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(missing); start += thumbChunk {
		chunk := missing[start:min(start+thumbChunk, len(missing))]
		g.Go(func() error {
			args := make([]string, len(chunk))
			for i, k := range chunk {
				args[i] = arg(k)
			}
			params := url.Values{}
			params.Set("prop", "pageimages")
			params.Set("pithumbsize", thumbSize)
			params.Set(param, strings.Join(args, "|"))

			var resp pageImagesResponse
			if err := c.query(gctx, "pageimages", params, &resp); err != nil {
				logging.Warn("page image lookup failed", "pages", len(chunk), "err", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, k := range chunk {
				fetched[k] = ""
			}
			for _, p := range resp.Query.Pages {
				src := ""
				if p.Thumbnail != nil {
					src = p.Thumbnail.Source
				}
				fetched[keyOf(p.PageID, p.Title)] = src
			}
			return nil
		})
	}
	g.Wait()

	save := make(map[string]string, len(missing))
	for _, k := range missing {
		if src, ok := fetched[k]; ok {
			out[k] = src
			save[k] = src
		}
	}
	if c.thumbs != nil && len(save) > 0 {
		if err := c.thumbs.SaveThumbnails(ctx, save); err != nil {
			logging.Warn("thumbnail cache write failed", "err", err)
		}
	}
	return out
}

func spaced(title string) string {
	return strings.ReplaceAll(strings.TrimSpace(title), "_", " ")
}

func (c *Client) attachThumbnails(ctx context.Context, changes []model.Change) {
	ids := make([]int64, 0, len(changes))
	for _, ch := range changes {
		ids = append(ids, ch.PageID)
	}
	images := c.PageImagesByID(ctx, ids)
	for i := range changes {
		changes[i].Thumbnail = images[changes[i].PageID]
	}
}

func (c *Client) attachPageThumbnails(ctx context.Context, pages []model.RankedPage) {
	ids := make([]int64, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.PageID)
	}
	images := c.PageImagesByID(ctx, ids)
	for i := range pages {
		pages[i].Thumbnail = images[pages[i].PageID]
	}
}

func (c *Client) attachTalkThumbnails(ctx context.Context, pages []model.RankedPage) {
	titles := make([]string, 0, len(pages))
	for _, p := range pages {
		titles = append(titles, model.CleanTalkTitle(p.Title))
	}
	images := c.PageImagesByTitle(ctx, titles)
	for i := range pages {
		pages[i].Thumbnail = images[spaced(model.CleanTalkTitle(pages[i].Title))]
	}
}

func (c *Client) attachViewedThumbnails(ctx context.Context, pages []model.ViewedPage) {
	titles := make([]string, 0, len(pages))
	for _, p := range pages {
		titles = append(titles, p.APITitle)
	}
	images := c.PageImagesByTitle(ctx, titles)
	for i := range pages {
		pages[i].Thumbnail = images[spaced(pages[i].APITitle)]
	}
}
