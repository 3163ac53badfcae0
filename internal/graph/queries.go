package graph

var constraints = []string{
	`CREATE CONSTRAINT story_id IF NOT EXISTS FOR (n:Story) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (n:User) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT comment_id IF NOT EXISTS FOR (n:Comment) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT source_name IF NOT EXISTS FOR (n:Source) REQUIRE n.name IS UNIQUE`,
	`CREATE CONSTRAINT url_name IF NOT EXISTS FOR (n:Url) REQUIRE n.name IS UNIQUE`,
}

const upsertUserCypher = `MERGE (user:User {id: $id})
SET user.created = $created, user.score = $score`

const userScoreCypher = `MATCH (user:User {id: $id})
RETURN user.score AS score`

const setUserScoreCypher = `MATCH (user:User {id: $id})
SET user.score = $score`

const upsertStoryCypher = `MERGE (story:Story {id: $id})
SET story.created = $created,
    story.score = $score,
    story.comment_total = $commentTotal,
    story.deleted = $deleted,
    story.locked = $locked
MERGE (source:Source {name: $source})
MERGE (url:Url {name: $host})
MERGE (source)-[:HOSTS]->(story)
MERGE (story)-[:HOSTED_BY]->(source)
MERGE (story)-[points:POINTS_TO]->(url)
SET points.address = $address
MERGE (url)-[:COMES_FROM]->(story)`

const linkStoryAuthorCypher = `MATCH (story:Story {id: $id})
MATCH (source:Source {name: $source})
MATCH (user:User {id: $authorId})
MERGE (user)-[:CREATED]->(story)
MERGE (story)-[:CREATED_BY]->(user)
MERGE (user)-[:USER_OF]->(source)
MERGE (source)-[:USED_BY]->(user)`

const upsertCommentCypher = `MERGE (comment:Comment {id: $id})
SET comment.created = $created, comment.deleted = $deleted
WITH comment
MATCH (parent:Story|Comment {id: $parentId})
MERGE (parent)-[:PROVOKED]->(comment)
MERGE (comment)-[:REACTION_TO]->(parent)`

const linkCommentAuthorCypher = `MATCH (comment:Comment {id: $id})
MATCH (user:User {id: $authorId})
MERGE (user)-[:CREATED]->(comment)
MERGE (comment)-[:CREATED_BY]->(user)`

const storiesInWindowCypher = `MATCH (url:Url)<-[:POINTS_TO]-(story:Story)
WHERE story.created <= $start
  AND story.created >= $end
  AND story.score >= $score
  AND story.comment_total >= $commentTotal
OPTIONAL MATCH (story)-[:CREATED_BY]->(user:User)
RETURN story.id AS id, story.created AS created, story.deleted AS deleted,
       story.locked AS locked, story.score AS score, story.comment_total AS comment_total,
       url.name AS domain, user.id AS author
ORDER BY story.created DESC, story.id`

const storyStatsCypher = `UNWIND $ids AS storyId
MATCH (story:Story {id: storyId})
RETURN story.id AS id, story.score AS score, story.comment_total AS comment_total, story.created AS created`
